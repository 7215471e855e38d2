package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cbodonnell/apsync/pkg/core"
	"github.com/cbodonnell/apsync/pkg/log"
	"github.com/cbodonnell/apsync/pkg/state"
)

// Controller is the part of the client the status API exposes.
type Controller interface {
	Status() *core.Status
	Snapshot(ctx context.Context) (*state.Snapshot, error)
	Logs() []log.Entry
	Reconnect() error
	UpdateURL(url string) error
	Say(ctx context.Context, text string) error
	ResetSession(ctx context.Context) error
}

func HandleStatus(controller Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, controller.Status())
	}
}

func HandleState(controller Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := controller.Snapshot(r.Context())
		if err != nil {
			log.Error("failed to get sync state: %v", err)
			http.Error(w, "Failed to get sync state", http.StatusInternalServerError)
			return
		}
		writeJSON(w, snapshot)
	}
}

func HandleLogs(controller Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, controller.Logs())
	}
}

func HandleReconnect(controller Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := controller.Reconnect(); err != nil {
			log.Error("failed to reconnect: %v", err)
			http.Error(w, "Failed to reconnect", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

type updateURLRequest struct {
	URL string `json:"url"`
}

func HandleUpdateURL(controller Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateURLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.URL) == "" {
			http.Error(w, "URL is required", http.StatusBadRequest)
			return
		}
		if err := controller.UpdateURL(req.URL); err != nil {
			log.Error("failed to update url: %v", err)
			http.Error(w, "Failed to update URL", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

type sayRequest struct {
	Text string `json:"text"`
}

func HandleSay(controller Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sayRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
			http.Error(w, "Text is required", http.StatusBadRequest)
			return
		}
		if err := controller.Say(r.Context(), req.Text); err != nil {
			log.Warn("failed to send message: %v", err)
			http.Error(w, "Not connected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleReset(controller Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := controller.ResetSession(r.Context()); err != nil {
			log.Error("failed to reset session: %v", err)
			http.Error(w, "Failed to reset session", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
