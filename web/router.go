package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/prospectcrm/crmgate"
	"github.com/prospectcrm/crmgate/middleware"
	"github.com/prospectcrm/crmgate/route"
)

// RouterOptions controls the construction of the gateway router. Gateway is
// required; everything else has a default.
type RouterOptions struct {
	Gateway       *crmgate.Gateway
	Screens       Screens
	Metrics       http.Handler
	CORSOptions   *cors.Options
	Middleware    []func(http.Handler) http.Handler
	HealthHandler http.HandlerFunc
}

// DefaultCORSOptions allows the single-page client's development server to
// call the session API with cookies.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles the gateway router.
func NewRouter(opts RouterOptions) chi.Router {
	gw := opts.Gateway
	screens := opts.Screens
	if screens == nil {
		screens = DefaultScreens()
	}
	h := &handlers{gw: gw, screens: screens, log: gw.Logger().Named("web")}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(RequestLogger(h.log))
	r.Use(chimw.Recoverer)
	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/healthz", healthHandler)
	if opts.Metrics != nil {
		r.Mount("/metrics", opts.Metrics)
	}

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	bootstrap := middleware.Bootstrap(gw)
	pending := middleware.WithPendingHandler(http.HandlerFunc(screens.Pending))
	rootSwitch := middleware.RootSwitch(gw, pending)

	r.Route("/api/session", func(r chi.Router) {
		r.Use(cors.Handler(corsCfg))
		r.Use(middleware.BootstrapFor(gw, middleware.EntryQuery("entry")))
		r.Get("/", h.sessionState)
		r.Post("/unauthorized", h.unauthorized)
		r.Put("/identity", h.updateIdentity)
	})

	r.Group(func(r chi.Router) {
		r.Use(bootstrap)

		landing := gw.Routes().Landing()
		pages := r.With(rootSwitch)
		pages.Get(landing.SignIn, h.signInForm)
		pages.Post(landing.SignIn, h.signIn)
		pages.Get(landing.SignUp, h.signUpForm)
		pages.Post(landing.SignUp, h.signUp)
		pages.Get(landing.Root, h.notFound)

		r.With(middleware.Guard(gw, route.Authenticated, pending)).Post(logoutPath, h.signOut)

		for _, p := range gw.Routes().Paths() {
			req, _ := gw.Routes().Lookup(p)
			if req == route.Public || p == logoutPath || p == landing.Root {
				continue
			}
			pages.Get(p, h.page(p))
		}
	})

	r.NotFound(bootstrap(rootSwitch(http.HandlerFunc(h.notFound))).ServeHTTP)

	h.log.Debug("router assembled", zap.Strings("pages", gw.Routes().Paths()))
	return r
}
