package partials

// Text is the flattened message catalog for the request language.
type Text map[string]string

// Get returns the message for key, or key itself when missing so gaps are visible.
func (t Text) Get(key string) string {
	if v, ok := t[key]; ok {
		return v
	}
	return key
}

// Page carries the chrome shared by every full-page render.
type Page struct {
	Lang      string
	Title     string
	CSRFToken string
	Text      Text
	Toast     *Toast
}

// ToastKind selects the toast styling.
type ToastKind string

const (
	ToastError ToastKind = "error"
	ToastInfo  ToastKind = "info"
)

// DefaultToastTimeoutMS is how long a toast stays visible before toast.js removes it.
const DefaultToastTimeoutMS = 4000

// Toast is a transient notification rendered into #toast-region.
type Toast struct {
	Kind         ToastKind
	Message      string
	TimeoutMS    int
	DismissLabel string
}
