// ABOUTME: Directory endpoints: service catalog, worker roster, geo search
// ABOUTME: Client search falls back to the caller's stored coordinates

package server

import (
	"net/http"

	"github.com/skilloc/skilloc/internal/auth"
	"github.com/skilloc/skilloc/internal/directory"
	"github.com/skilloc/skilloc/internal/store"
)

func (s *Server) handleServices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, directory.Services)
}

func (s *Server) handleWorkerDB(w http.ResponseWriter, r *http.Request) {
	entries, err := s.dir.WorkerLogins(r.Context())
	if err != nil {
		s.logger.Error("listing worker directory", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load worker directory")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type nearbyRequest struct {
	Category string   `json:"category"`
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	Radius   float64  `json:"radius,omitempty"`
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	var req nearbyRequest
	if err := decodeJSON(r, &req); err != nil || req.Category == "" || req.Lat == nil || req.Lng == nil {
		writeError(w, http.StatusBadRequest, "category, lat and lng are required")
		return
	}

	workers, err := s.dir.Nearby(r.Context(), req.Category, *req.Lat, *req.Lng, req.Radius)
	if err != nil {
		s.logger.Error("nearby search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": workers})
}

// handleClientSearch is the client-friendly variant of nearby: when the
// request omits coordinates and carries a valid client token, the caller's
// stored location is used instead.
func (s *Server) handleClientSearch(w http.ResponseWriter, r *http.Request) {
	var req nearbyRequest
	if err := decodeJSON(r, &req); err != nil || req.Category == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}

	lat, lng := req.Lat, req.Lng
	if lat == nil || lng == nil {
		if id := auth.FromContext(r.Context()); id != nil && id.Role == auth.RoleClient {
			if profile, err := s.accounts.Profile(r.Context(), id); err == nil {
				if c, ok := profile.(*store.Client); ok {
					lat, lng = c.Latitude, c.Longitude
				}
			}
		}
	}
	if lat == nil || lng == nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required, or authenticate as a client with a stored location")
		return
	}

	workers, err := s.dir.Nearby(r.Context(), req.Category, *lat, *lng, req.Radius)
	if err != nil {
		s.logger.Error("client search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": workers})
}
