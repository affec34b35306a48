package httpserver

import (
	"net/http"

	"github.com/a-h/templ"

	custommw "github.com/cliffordwilliam/WitheredBlogClient/internal/client/httpserver/middleware"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/i18n"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/templates"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/templates/home"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/templates/partials"
)

type homeHandlers struct {
	bundle    *i18n.Bundle
	loginPath string
}

func newHomeHandlers(bundle *i18n.Bundle, loginPath string) *homeHandlers {
	return &homeHandlers{bundle: bundle, loginPath: loginPath}
}

func (h *homeHandlers) Show(w http.ResponseWriter, r *http.Request) {
	lang := custommw.LangFromContext(r.Context())
	if lang == "" {
		lang = h.bundle.Fallback()
	}
	text := partials.Text(h.bundle.Messages(lang))

	data := home.PageData{
		Page: partials.Page{
			Lang:      lang,
			Title:     text.Get("home.title"),
			CSRFToken: custommw.CSRFTokenFromContext(r.Context()),
			Text:      text,
		},
		LoginPath: h.loginPath,
	}
	templ.Handler(templates.HomePage(data)).ServeHTTP(w, r)
}
