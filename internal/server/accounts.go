// ABOUTME: Account endpoints: registration, login, profile, location
// ABOUTME: Thin HTTP layer over the account service

package server

import (
	"errors"
	"net/http"

	"github.com/skilloc/skilloc/internal/account"
	"github.com/skilloc/skilloc/internal/auth"
	"github.com/skilloc/skilloc/internal/store"
)

func (s *Server) handleClientRegister(w http.ResponseWriter, r *http.Request) {
	var req account.ClientRegistration
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	client, err := s.accounts.RegisterClient(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, account.ErrEmailTaken):
			writeError(w, http.StatusConflict, "email already registered")
		default:
			s.logger.Error("client registration failed", "error", err)
			writeError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": client})
}

func (s *Server) handleWorkerRegister(w http.ResponseWriter, r *http.Request) {
	var req account.WorkerRegistration
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	worker, err := s.accounts.RegisterWorker(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, account.ErrEmailTaken):
			writeError(w, http.StatusConflict, "email already registered")
		default:
			s.logger.Error("worker registration failed", "error", err)
			writeError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": worker})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Type     string `json:"type"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	role, err := auth.ParseRole(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, "type must be client or worker")
		return
	}

	result, err := s.accounts.Login(r.Context(), req.Email, req.Password, role)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrAccountLocked):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, account.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			s.logger.Error("login failed", "error", err)
			writeError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": result.Token, "user": result.User})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	profile, err := s.accounts.Profile(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		s.logger.Error("loading profile", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": profile})
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (s *Server) handleClientLocation(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	if id.Role != auth.RoleClient {
		writeError(w, http.StatusForbidden, "client account required")
		return
	}

	var req locationRequest
	if err := decodeJSON(r, &req); err != nil || req.Latitude == nil || req.Longitude == nil {
		writeError(w, http.StatusBadRequest, "latitude and longitude are required")
		return
	}

	if err := s.accounts.SaveClientLocation(r.Context(), id.ID, *req.Latitude, *req.Longitude); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		s.logger.Error("saving location", "error", err)
		writeError(w, http.StatusInternalServerError, "could not save location")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}
