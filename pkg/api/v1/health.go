package v1

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bindwire/devicebridge/pkg/pairing"
	"github.com/bindwire/devicebridge/pkg/registry"
)

// HealthRoutes defines the health check endpoint.
type HealthRoutes struct {
	store    *pairing.CodeStore
	registry *registry.Registry
}

// HealthcheckRouter creates a new HealthRoutes instance.
func HealthcheckRouter(store *pairing.CodeStore, reg *registry.Registry) http.Handler {
	routes := HealthRoutes{store: store, registry: reg}

	r := chi.NewRouter()
	r.Get("/", routes.getHealth)

	return r
}

type healthResponse struct {
	Status        string `json:"status"`
	DevicesOnline int    `json:"devices_online"`
}

// getHealth
//
//	@Summary		Health check
//	@Description	Reports process health; fails when the pairing store is unreachable
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	healthResponse
//	@Failure		503	{string}	string	"Pairing store unreachable"
//	@Router			/health [get]
func (s *HealthRoutes) getHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		http.Error(w, "Pairing store unreachable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:        "ok",
		DevicesOnline: s.registry.Len(),
	})
}
