package v1

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bindwire/devicebridge/pkg/logger"
	"github.com/bindwire/devicebridge/pkg/pairing"
)

// PairingRoutes defines the routes for pairing code issuance.
type PairingRoutes struct {
	store *pairing.CodeStore
}

// PairingRouter creates a new PairingRoutes instance.
func PairingRouter(store *pairing.CodeStore) http.Handler {
	routes := PairingRoutes{store: store}

	r := chi.NewRouter()
	r.Post("/", routes.createPairingCode)

	return r
}

type createPairingCodeRequest struct {
	ProjectID string `json:"project_id"`
}

type createPairingCodeResponse struct {
	BindCode  string    `json:"bind_code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// createPairingCode
//
//	@Summary		Issue a pairing code
//	@Description	Create a one-time pairing code binding the next device that redeems it to the given project
//	@Tags			pairing
//	@Accept			json
//	@Produce		json
//	@Param			request	body		createPairingCodeRequest	true	"Target project"
//	@Success		201		{object}	createPairingCodeResponse
//	@Failure		400		{string}	string	"Invalid project id"
//	@Router			/api/v1/pairing-codes [post]
func (s *PairingRoutes) createPairingCode(w http.ResponseWriter, r *http.Request) {
	var req createPairingCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		http.Error(w, "Invalid project id", http.StatusBadRequest)
		return
	}

	code, expiresAt, err := s.store.Generate(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, pairing.ErrExhaustedRetries) {
			http.Error(w, "Pairing code space exhausted, try again", http.StatusServiceUnavailable)
			return
		}
		logger.Errorf("Failed to generate pairing code: %v", err)
		http.Error(w, "Failed to generate pairing code", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(createPairingCodeResponse{
		BindCode:  code,
		ExpiresAt: expiresAt,
	}); err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
}
