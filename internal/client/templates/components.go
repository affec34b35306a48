package templates

import (
	"context"
	"embed"
	"html/template"
	"io"

	"github.com/a-h/templ"

	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/templates/auth"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/templates/home"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/templates/partials"
)

//go:embed html/*.html
var files embed.FS

// Each page gets its own set because every page defines "content".
var (
	loginViews   = mustParsePage("html/login.html")
	homeViews    = mustParsePage("html/home.html")
	partialViews = template.Must(template.ParseFS(files, "html/partials.html"))
)

func mustParsePage(page string) *template.Template {
	return template.Must(template.ParseFS(files, "html/layout.html", "html/partials.html", page))
}

func execute(set *template.Template, name string, data any) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return set.ExecuteTemplate(w, name, data)
	})
}

// LoginPage renders the full login document.
func LoginPage(data auth.LoginPageData) templ.Component {
	data.OOB = false
	return execute(loginViews, "layout", data)
}

// LoginValidation renders the field errors and submit button as out-of-band swaps answering a
// keystroke validation request.
func LoginValidation(data auth.LoginPageData) templ.Component {
	data.OOB = true
	return execute(loginViews, "login-validation", data)
}

// Toast renders a single toast for insertion into #toast-region.
func Toast(toast partials.Toast) templ.Component {
	if toast.TimeoutMS <= 0 {
		toast.TimeoutMS = partials.DefaultToastTimeoutMS
	}
	return execute(partialViews, "toast", toast)
}

// HomePage renders the landing page.
func HomePage(data home.PageData) templ.Component {
	return execute(homeViews, "layout", data)
}
