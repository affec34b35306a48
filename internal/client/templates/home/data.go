package home

import "github.com/cliffordwilliam/WitheredBlogClient/internal/client/templates/partials"

// PageData is the landing page users reach after signing in.
type PageData struct {
	partials.Page

	LoginPath string
}
