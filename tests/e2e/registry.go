package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/nkiryanov/parcelguard/internal/models"
)

// Registry is in-process fake of the parcel registry HTTP API
type Registry struct {
	URL string

	mu      sync.Mutex
	parcels map[uuid.UUID]models.Parcel
	pickups map[uuid.UUID]models.Pickup
	events  []models.VerificationEvent
}

func StartRegistry(t *testing.T) *Registry {
	r := &Registry{
		parcels: make(map[uuid.UUID]models.Parcel),
		pickups: make(map[uuid.UUID]models.Pickup),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/internal/parcels/{id}", func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		p, ok := r.parcels[uuid.MustParse(req.PathValue("id"))]
		r.mu.Unlock()
		reply(w, p, ok)
	})
	mux.HandleFunc("GET /api/internal/pickups/{id}", func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		p, ok := r.pickups[uuid.MustParse(req.PathValue("id"))]
		r.mu.Unlock()
		reply(w, p, ok)
	})
	mux.HandleFunc("POST /api/internal/verification-events", func(w http.ResponseWriter, req *http.Request) {
		var e models.VerificationEvent
		if err := json.NewDecoder(req.Body).Decode(&e); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	r.URL = srv.URL

	return r
}

func (r *Registry) AddParcel(p models.Parcel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parcels[p.ID] = p
}

func (r *Registry) AddPickup(p models.Pickup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pickups[p.ID] = p
}

// Events returns verification events received so far
func (r *Registry) Events() []models.VerificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.VerificationEvent(nil), r.events...)
}

func reply(w http.ResponseWriter, data any, found bool) {
	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}
