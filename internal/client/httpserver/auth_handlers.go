package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/a-h/templ"
	"go.uber.org/zap"

	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/authapi"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/credentials"
	custommw "github.com/cliffordwilliam/WitheredBlogClient/internal/client/httpserver/middleware"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/i18n"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/metrics"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/observability"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/submission"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/templates"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/templates/auth"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/templates/partials"
)

type authOptions struct {
	Service        authapi.Service
	Guard          *submission.Guard
	Bundle         *i18n.Bundle
	Metrics        *metrics.Metrics
	LoginPath      string
	RedirectTarget string
}

type authHandlers struct {
	service        authapi.Service
	guard          *submission.Guard
	bundle         *i18n.Bundle
	metrics        *metrics.Metrics
	loginPath      string
	validatePath   string
	redirectTarget string
}

func newAuthHandlers(opts authOptions) *authHandlers {
	if opts.Service == nil {
		panic("auth: login service is required")
	}
	if opts.Guard == nil {
		opts.Guard = submission.NewGuard()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	loginPath := resolveLoginPath(opts.LoginPath)
	return &authHandlers{
		service:        opts.Service,
		guard:          opts.Guard,
		bundle:         opts.Bundle,
		metrics:        opts.Metrics,
		loginPath:      loginPath,
		validatePath:   loginPath + "/validate",
		redirectTarget: resolveRedirectTarget(opts.RedirectTarget, loginPath),
	}
}

// LoginForm renders the empty login screen with the submit button disabled.
func (h *authHandlers) LoginForm(w http.ResponseWriter, r *http.Request) {
	data := h.buildLoginPageData(r, nil)
	h.renderLoginPage(w, r, data, http.StatusOK)
}

// Validate answers a keystroke with out-of-band swaps for both field errors and the submit
// button. Errors are only shown for fields the user has touched.
func (h *authHandlers) Validate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	creds := credentials.FromForm(r.PostForm)
	state := &loginFormState{
		Email:   creds.Email,
		Errors:  creds.Validate(),
		Touched: touchedFields(r),
	}
	data := h.buildLoginPageData(r, state)
	templ.Handler(templates.LoginValidation(data)).ServeHTTP(w, r)
}

// LoginSubmit re-validates the credentials, forwards them upstream once per session and either
// redirects or shows the error toast.
func (h *authHandlers) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	if err := r.ParseForm(); err != nil {
		h.respondLoginError(w, r, "", http.StatusBadRequest)
		return
	}

	creds := credentials.FromForm(r.PostForm)
	if errs := creds.Validate(); len(errs) > 0 {
		h.metrics.ObserveLogin(metrics.OutcomeInvalid)
		state := &loginFormState{
			Email:   creds.Email,
			Errors:  errs,
			Touched: allFieldsTouched(),
		}
		data := h.buildLoginPageData(r, state)
		if custommw.IsHTMXRequest(ctx) {
			// Leave the toast region alone; the out-of-band swaps carry the errors.
			custommw.SkipMainSwap(w)
			templ.Handler(templates.LoginValidation(data)).ServeHTTP(w, r)
			return
		}
		h.renderLoginPage(w, r, data, http.StatusUnprocessableEntity)
		return
	}

	key := ""
	if sess, ok := custommw.SessionFromContext(ctx); ok {
		key = sess.ID()
	}

	if key != "" && h.guard.InFlight(key) {
		logger.Info("login submission waiting on in-flight request", zap.String("session_id", key))
	}

	h.metrics.LoginsInFlight.Inc()
	res, shared, err := h.guard.Do(ctx, key, func(ctx context.Context) (*authapi.Result, error) {
		start := time.Now()
		res, err := h.service.Login(ctx, creds)
		h.metrics.ObserveUpstream(time.Since(start), err)
		return res, err
	})
	h.metrics.LoginsInFlight.Dec()
	if shared {
		h.metrics.ObserveLogin(metrics.OutcomeDuplicate)
		logger.Info("login submission joined an in-flight request")
	}

	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// The browser went away; nobody is listening for the answer.
			logger.Debug("login submission abandoned by client", zap.Error(err))
			return
		}
		fields := []zap.Field{zap.Error(err)}
		var statusErr *authapi.StatusError
		if errors.As(err, &statusErr) {
			fields = append(fields, zap.Int("upstream_status", statusErr.StatusCode))
		}
		logger.Warn("login failed", fields...)
		if !shared {
			h.metrics.ObserveLogin(metrics.OutcomeFailed)
		}
		h.respondLoginError(w, r, creds.Email, http.StatusUnauthorized)
		return
	}

	if !shared {
		h.metrics.ObserveLogin(metrics.OutcomeSuccess)
	}
	status := 0
	if res != nil {
		status = res.StatusCode
	}
	logger.Info("login succeeded", zap.Int("upstream_status", status), zap.String("redirect", h.redirectTarget))

	custommw.Redirect(w, r, h.redirectTarget, http.StatusNoContent)
}

// RateLimited answers throttled submissions with a toast.
func (h *authHandlers) RateLimited(w http.ResponseWriter, r *http.Request) {
	h.metrics.ObserveLogin(metrics.OutcomeLimited)
	lang := h.lang(r)
	toast := partials.Toast{
		Kind:         partials.ToastError,
		Message:      h.bundle.T(lang, "login.rate_limited"),
		DismissLabel: h.bundle.T(lang, "toast.dismiss"),
	}
	if custommw.IsHTMXRequest(r.Context()) {
		templ.Handler(templates.Toast(toast), templ.WithStatus(http.StatusTooManyRequests)).ServeHTTP(w, r)
		return
	}

	_ = r.ParseForm()
	email := strings.TrimSpace(r.PostFormValue(credentials.FieldEmail))
	h.renderLoginPage(w, r, h.buildLoginPageData(r, refilledState(email, &toast)), http.StatusTooManyRequests)
}

// CSRFRejected sends the browser back to a freshly issued login page.
func (h *authHandlers) CSRFRejected(w http.ResponseWriter, r *http.Request) {
	target := h.loginPath + "?" + url.Values{"expired": {"1"}}.Encode()
	custommw.Redirect(w, r, target, http.StatusForbidden)
}

// respondLoginError shows the generic failure toast. htmx requests only receive the toast so the
// populated form stays as it is.
func (h *authHandlers) respondLoginError(w http.ResponseWriter, r *http.Request, email string, status int) {
	lang := h.lang(r)
	toast := partials.Toast{
		Kind:         partials.ToastError,
		Message:      h.bundle.T(lang, "login.error"),
		DismissLabel: h.bundle.T(lang, "toast.dismiss"),
	}
	if custommw.IsHTMXRequest(r.Context()) {
		templ.Handler(templates.Toast(toast)).ServeHTTP(w, r)
		return
	}

	h.renderLoginPage(w, r, h.buildLoginPageData(r, refilledState(email, &toast)), status)
}

// refilledState describes a re-rendered form that keeps the email. The password is never echoed
// back, so the form starts out incomplete again.
func refilledState(email string, toast *partials.Toast) *loginFormState {
	return &loginFormState{
		Email:  email,
		Errors: credentials.Credentials{Email: email}.Validate(),
		Toast:  toast,
	}
}

type loginFormState struct {
	Email   string
	Errors  credentials.Errors
	Touched map[string]bool
	Toast   *partials.Toast
}

func (h *authHandlers) buildLoginPageData(r *http.Request, state *loginFormState) auth.LoginPageData {
	lang := h.lang(r)
	text := partials.Text(h.bundle.Messages(lang))

	form := auth.LoginForm{Errors: map[string]string{}}
	var toast *partials.Toast
	if state != nil {
		form.Email = state.Email
		form.Valid = len(state.Errors) == 0
		for field, rule := range state.Errors {
			if state.Touched[field] {
				form.Errors[field] = text.Get(validationKey(field, rule))
			}
		}
		toast = state.Toast
	}

	if toast == nil && r.URL != nil && r.URL.Query().Get("expired") != "" {
		toast = &partials.Toast{
			Kind:         partials.ToastInfo,
			Message:      text.Get("login.expired"),
			DismissLabel: text.Get("toast.dismiss"),
		}
	}
	if toast != nil && toast.TimeoutMS <= 0 {
		toast.TimeoutMS = partials.DefaultToastTimeoutMS
	}

	return auth.LoginPageData{
		Page: partials.Page{
			Lang:      lang,
			Title:     text.Get("login.title"),
			CSRFToken: custommw.CSRFTokenFromContext(r.Context()),
			Text:      text,
			Toast:     toast,
		},
		Form:         form,
		LoginPath:    h.loginPath,
		ValidatePath: h.validatePath,
		HomePath:     "/",
	}
}

func (h *authHandlers) renderLoginPage(w http.ResponseWriter, r *http.Request, data auth.LoginPageData, status int) {
	templ.Handler(templates.LoginPage(data), templ.WithStatus(status)).ServeHTTP(w, r)
}

func (h *authHandlers) lang(r *http.Request) string {
	if lang := custommw.LangFromContext(r.Context()); lang != "" {
		return lang
	}
	return h.bundle.Fallback()
}

func validationKey(field string, rule credentials.Rule) string {
	return "validation." + field + "." + string(rule)
}

// touchedFields treats a field as touched once it holds a value or is the element that fired
// the request.
func touchedFields(r *http.Request) map[string]bool {
	touched := map[string]bool{}
	for _, field := range []string{credentials.FieldEmail, credentials.FieldPassword} {
		if r.PostForm.Get(field) != "" {
			touched[field] = true
		}
	}
	if name := custommw.HTMXInfoFromContext(r.Context()).TriggerName; name != "" {
		touched[name] = true
	}
	return touched
}

func allFieldsTouched() map[string]bool {
	return map[string]bool{credentials.FieldEmail: true, credentials.FieldPassword: true}
}
