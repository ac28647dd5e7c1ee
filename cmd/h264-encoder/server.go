package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/h264-encoder/internal/webrtc"
)

// routes sets up the control and signalling endpoints
func (a *App) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// CORS middleware
	corsMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next(w, r)
		}
	}

	// WebRTC signaling
	if a.webrtc != nil {
		mux.HandleFunc("/offer", corsMiddleware(a.handleOffer))
	}

	// Recording control
	mux.HandleFunc("/start", corsMiddleware(a.handleStartRecording))
	mux.HandleFunc("/stop", corsMiddleware(a.handleStopRecording))
	mux.HandleFunc("/status", corsMiddleware(a.handleStatus))

	if a.events != nil {
		mux.Handle("/events", a.events)
	}

	// Health check
	mux.HandleFunc("/health", a.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("HTTP", "Failed to write response: %v", err)
	}
}

// handleOffer answers a WebRTC offer
func (a *App) handleOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	offerJSON, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	answerJSON, err := a.webrtc.HandleOffer(offerJSON)
	if err != nil {
		logger.Warn("HTTP", "WebRTC offer error: %v", err)
		status := http.StatusInternalServerError
		if errors.Is(err, webrtc.ErrTooManyClients) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, fmt.Sprintf("Failed to handle offer: %v", err), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(answerJSON)
}

// handleStartRecording starts a new recording
func (a *App) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := a.recorder.Start(); err != nil {
		http.Error(w, fmt.Sprintf("Failed to start recording: %v", err), http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  a.recorder.Status(),
	})
}

// handleStopRecording stops the active recording
func (a *App) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := a.recorder.Stop(); err != nil {
		http.Error(w, fmt.Sprintf("Failed to stop recording: %v", err), http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  a.recorder.Status(),
	})
}

// statusSnapshot reports recording and encoding progress
func (a *App) statusSnapshot() any {
	status := map[string]any{
		"recording":        a.recorder.Status(),
		"frames_received":  a.metrics.FramesReceived.Load(),
		"frames_encoded":   a.metrics.FramesEncoded.Load(),
		"frames_skipped":   a.metrics.FramesSkipped.Load(),
		"frames_published": a.metrics.FramesPublished.Load(),
		"bytes_published":  a.metrics.BytesPublished.Load(),
	}
	if a.webrtc != nil {
		status["webrtc_clients"] = a.webrtc.ClientStats()
	}
	return status
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.statusSnapshot())
}

// handleHealth reports liveness of the bus and the stream
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	clients := 0
	if a.webrtc != nil {
		clients = a.webrtc.ClientCount()
	}

	status := "ok"
	code := http.StatusOK
	if !a.pub.IsRunning() {
		status = "bus_down"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"webrtc_clients": clients,
		"recording":      a.recorder.IsRecording(),
		"has_headers":    a.pub.Processor().HasHeaders(),
	})
}
