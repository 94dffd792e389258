package http

import (
	"net/http"
	"time"

	httpmw "github.com/cwrk-planet/consult-service/internal/transport/http/middleware"
	"github.com/cwrk-planet/consult-service/pkg/httputil"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Deps struct {
	Handler        *Handler
	WS             http.HandlerFunc
	Auth           httpmw.Authenticator
	AllowedOrigins []string
	RequestTimeout time.Duration // 30s
}

func NewRouter(d Deps) http.Handler {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 30 * time.Second
	}
	if len(d.AllowedOrigins) == 0 {
		d.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(httputil.MiddlewareRequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	r.Use(httputil.MiddlewareRequestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-User-ID", "X-User-Role"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.OK(w, map[string]string{"status": "ok"})
	})

	// WS endpoint: без Timeout, соединение живёт долго; авторизация внутри
	if d.WS != nil {
		r.With(httputil.MiddlewareLogging).Get("/ws", d.WS)
	}

	r.Group(func(pr chi.Router) {
		pr.Use(httputil.MiddlewareLogging)
		pr.Use(middlewareChi.Timeout(d.RequestTimeout))
		pr.Use(httpmw.Auth(d.Auth))

		pr.Route("/conversations/{farmerID}/{doctorID}", func(rc chi.Router) {
			rc.Get("/messages", d.Handler.GetHistory)
			rc.Post("/messages", d.Handler.SendMessage)
			rc.Post("/seen", d.Handler.MarkSeen)
		})
		pr.Get("/doctors/{doctorID}/conversations", d.Handler.DoctorConversations)
		pr.Get("/farmers/{farmerID}/conversations", d.Handler.FarmerConversations)
	})

	return r
}
