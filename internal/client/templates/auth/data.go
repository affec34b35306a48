package auth

import "github.com/cliffordwilliam/WitheredBlogClient/internal/client/templates/partials"

// LoginPageData encapsulates rendering state for the login screen.
type LoginPageData struct {
	partials.Page

	Form         LoginForm
	LoginPath    string
	ValidatePath string
	HomePath     string
	// OOB renders field errors and the submit button as htmx out-of-band swaps.
	OOB bool
}

// LoginForm is the visible form state. The password is never echoed back into HTML.
type LoginForm struct {
	Email  string
	Errors map[string]string
	Valid  bool
}

// Error returns the inline message for field, if any.
func (f LoginForm) Error(field string) string {
	return f.Errors[field]
}
