package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the service router. extra handlers, such as /metrics, are
// mounted verbatim. No request timeout is applied since the stream routes are
// long-lived.
func NewRouter(handler *Handler, extra map[string]http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	for pattern, h := range extra {
		r.Handle(pattern, h)
	}
	handler.Routes(r)
	return r
}
