// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launch-guard/internal/bundle"
	"github.com/rovshanmuradov/launch-guard/internal/launch"
	"github.com/rovshanmuradov/launch-guard/internal/sniper"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// LaunchResponse carries the launch report. Error is set when the submission
// or the monitor registration failed after the report was produced.
type LaunchResponse struct {
	*launch.Result
	Error string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status         string `json:"status"`
	ActiveMonitors int    `json:"active_monitors"`
}

func (s *Server) startMonitor(w http.ResponseWriter, r *http.Request) {
	var req sniper.StartRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := s.monitors.Start(r.Context(), req)
	if err != nil {
		var verr *sniper.ValidationError
		switch {
		case errors.As(err, &verr):
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: verr.Error(), Field: verr.Field})
		case errors.Is(err, sniper.ErrMonitorActive), errors.Is(err, sniper.ErrAlreadyTriggered):
			writeError(w, http.StatusConflict, err)
		case errors.Is(err, sniper.ErrShuttingDown):
			writeError(w, http.StatusServiceUnavailable, err)
		default:
			s.logger.Error("Start monitor failed", zap.String("token", req.TokenMint), zap.Error(err))
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) monitorStatus(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	resp, err := s.monitors.Status(r.Context(), token)
	if err != nil {
		s.logger.Error("Monitor status failed", zap.String("token", token), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) cancelMonitor(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	resp, err := s.monitors.Cancel(r.Context(), token)
	if err != nil {
		if errors.Is(err, sniper.ErrNotActive) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		s.logger.Error("Cancel monitor failed", zap.String("token", token), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) submitLaunch(w http.ResponseWriter, r *http.Request) {
	var req launch.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.launcher.Launch(r.Context(), req)
	if err == nil {
		writeJSON(w, http.StatusOK, LaunchResponse{Result: res})
		return
	}

	var verr *sniper.ValidationError
	switch {
	case errors.Is(err, launch.ErrInvalidRequest), errors.Is(err, bundle.ErrInvalidBundle):
		writeError(w, http.StatusBadRequest, err)
	case errors.As(err, &verr) && res == nil:
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: verr.Error(), Field: verr.Field})
	default:
		s.logger.Warn("Launch failed", zap.String("token", req.TokenMint), zap.Error(err))
		if res == nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusBadGateway, LaunchResponse{Result: res, Error: err.Error()})
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", ActiveMonitors: s.monitors.Active()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, ErrorResponse{Error: err.Error()})
}
