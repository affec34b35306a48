package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/authapi"
	custommw "github.com/cliffordwilliam/WitheredBlogClient/internal/client/httpserver/middleware"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/i18n"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/metrics"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/observability"
	appsession "github.com/cliffordwilliam/WitheredBlogClient/internal/client/session"
	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/submission"
	"github.com/cliffordwilliam/WitheredBlogClient/public"
)

const (
	defaultLoginRatePerMinute = 30
	defaultLoginRateBurst     = 10
	defaultRequestTimeout     = 60 * time.Second
)

// Config holds runtime options for the login client HTTP server.
type Config struct {
	Address        string
	LoginPath      string
	RedirectTarget string

	AuthService authapi.Service
	Sessions    custommw.SessionStore
	Bundle      *i18n.Bundle
	Logger      *zap.Logger
	Metrics     *metrics.Metrics

	LoginRatePerMinute int
	LoginRateBurst     int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// New constructs the HTTP server with middleware stack and embedded assets. Missing
// collaborators fall back to working defaults: the public login endpoint, an ephemeral session
// manager, the embedded catalogs and a no-op logger.
func New(cfg Config) *http.Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	service := cfg.AuthService
	if service == nil {
		httpService, err := authapi.NewHTTPService(authapi.DefaultLoginURL, authapi.WithLogger(logger))
		if err != nil {
			logger.Fatal("build login service", zap.Error(err))
		}
		service = httpService
	}

	sessions := cfg.Sessions
	if sessions == nil {
		manager, err := appsession.NewEphemeralManager(appsession.Config{})
		if err != nil {
			logger.Fatal("build session manager", zap.Error(err))
		}
		sessions = manager
	}

	bundle := cfg.Bundle
	if bundle == nil {
		b, err := i18n.Default()
		if err != nil {
			logger.Fatal("load message catalogs", zap.Error(err))
		}
		bundle = b
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.New(nil)
	}

	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(observability.InjectLogger(logger))
	router.Use(observability.RequestLogger())
	router.Use(chimw.Recoverer)
	router.Use(m.Instrument)
	router.Use(chimw.Timeout(requestTimeout))

	staticContent, err := public.StaticFS()
	if err != nil {
		logger.Fatal("embed static", zap.Error(err))
	}
	router.Handle("/public/static/*", http.StripPrefix("/public/static/", http.FileServer(http.FS(staticContent))))
	router.Get("/healthz", healthz)
	router.Method(http.MethodGet, "/metrics", m.Handler())

	loginPath := resolveLoginPath(cfg.LoginPath)
	redirectTarget := resolveRedirectTarget(cfg.RedirectTarget, loginPath)

	limiter := custommw.NewRateLimiter(
		positiveOr(cfg.LoginRatePerMinute, defaultLoginRatePerMinute),
		positiveOr(cfg.LoginRateBurst, defaultLoginRateBurst),
	)

	auth := newAuthHandlers(authOptions{
		Service:        service,
		Guard:          submission.NewGuard(),
		Bundle:         bundle,
		Metrics:        m,
		LoginPath:      loginPath,
		RedirectTarget: redirectTarget,
	})
	limiter.OnLimited = http.HandlerFunc(auth.RateLimited)

	mountClientRoutes(router, routeOptions{
		Auth:      auth,
		Home:      newHomeHandlers(bundle, loginPath),
		Sessions:  sessions,
		Bundle:    bundle,
		Limiter:   limiter,
		LoginPath: loginPath,
	})

	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  durationOr(cfg.ReadTimeout, 10*time.Second),
		WriteTimeout: durationOr(cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  durationOr(cfg.IdleTimeout, 60*time.Second),
		ErrorLog:     zap.NewStdLog(logger.Named("http")),
	}
	srv.RegisterOnShutdown(limiter.Stop)
	return srv
}

type routeOptions struct {
	Auth      *authHandlers
	Home      *homeHandlers
	Sessions  custommw.SessionStore
	Bundle    *i18n.Bundle
	Limiter   *custommw.RateLimiter
	LoginPath string
}

func mountClientRoutes(router chi.Router, opts routeOptions) {
	router.Group(func(r chi.Router) {
		r.Use(custommw.HTMX())
		r.Use(custommw.Locale(opts.Bundle))
		r.Use(custommw.Session(opts.Sessions))
		r.Use(custommw.CSRF(custommw.CSRFConfig{
			OnFailure: http.HandlerFunc(opts.Auth.CSRFRejected),
		}))

		r.Get("/", opts.Home.Show)

		r.Route(opts.LoginPath, func(r chi.Router) {
			r.Use(custommw.NoStore())
			r.Get("/", opts.Auth.LoginForm)
			RegisterFragment(r, "/validate", opts.Auth.Validate)
			r.With(opts.Limiter.Middleware).Post("/", opts.Auth.LoginSubmit)
		})
	})
}

// RegisterFragment registers a POST handler that answers htmx fragment requests only.
func RegisterFragment(r chi.Router, pattern string, handler http.HandlerFunc) {
	r.With(custommw.RequireHTMX()).Post(pattern, handler)
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func resolveLoginPath(override string) string {
	p := strings.TrimSpace(override)
	if p == "" {
		return "/login"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/login"
	}
	return p
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
