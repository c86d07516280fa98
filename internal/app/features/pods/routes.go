// internal/app/features/pods/routes.go
package pods

import "github.com/go-chi/chi/v5"

// Routes returns a subrouter serving the pod endpoints; mount under /pods.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/join", h.Join)
	r.Get("/current", h.Current)
	r.Post("/leave", h.Leave)
	r.Post("/{podID}/messages", h.Send)
	r.Get("/{podID}/stream", h.Stream)
	return r
}
