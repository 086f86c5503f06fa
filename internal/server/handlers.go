package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	"github.com/Iron-Ham/waproxy/internal/detect"
	"github.com/Iron-Ham/waproxy/internal/errors"
	"github.com/Iron-Ham/waproxy/internal/event"
	"github.com/Iron-Ham/waproxy/internal/status"
)

const (
	// maxToolBody caps the size of a tool request body.
	maxToolBody = 1 << 20

	// qrImageSize is the edge length of /qr.png in pixels.
	qrImageSize = 512

	maxEventsLimit = 1000
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	writeJSON(w, http.StatusOK, rootResponse{
		Status:        "ok",
		Message:       "WhatsApp Bridge running",
		Uptime:        status.FormatUptime(s.tracker.Uptime()),
		Authenticated: snap.Authenticated,
		QRGenerated:   snap.QRGenerated,
		BridgeState:   s.bridge.Info().State,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	s.tracker.Touch()

	if s.tracker.IsAuthenticated() {
		writeJSON(w, http.StatusOK, authenticatedResponse())
		return
	}

	if _, err := s.scanner.ScanNow(); err != nil && !errors.Is(err, errors.ErrLogNotFound) {
		s.logger.Error("QR scan failed", "error", err)
		writeJSON(w, http.StatusOK, statusResponse{
			Status:  "error",
			Message: fmt.Sprintf("Error getting QR status: %v", err),
		})
		return
	}

	snap := s.tracker.Snapshot()
	if snap.Authenticated {
		writeJSON(w, http.StatusOK, authenticatedResponse())
		return
	}
	elapsed := s.tracker.Uptime()
	if snap.QRGenerated {
		writeJSON(w, http.StatusOK, statusResponse{
			Status:         "qr_ready",
			Message:        "QR code is ready to scan",
			QR:             snap.QR,
			TimeSinceStart: status.FormatSeconds(elapsed),
		})
		return
	}

	if s.bridge.IsRunning() {
		if elapsed > s.opts.QRDelayThreshold {
			writeJSON(w, http.StatusOK, statusResponse{
				Status: "delayed",
				Message: fmt.Sprintf("WhatsApp bridge is running but QR code generation is taking longer than expected (%s). You may want to restart.",
					status.FormatSeconds(elapsed)),
				RestartURL: "/restart",
			})
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{
			Status:  "starting",
			Message: fmt.Sprintf("WhatsApp bridge is starting, waiting for QR code (running for %s)", status.FormatSeconds(elapsed)),
		})
		return
	}

	if err := s.bridge.Start(s.baseCtx); err != nil && !errors.Is(err, errors.ErrBridgeAlreadyRunning) {
		s.logger.Error("failed to start bridge from /qr", "error", err)
		writeJSON(w, http.StatusOK, statusResponse{
			Status:  "error",
			Message: fmt.Sprintf("Error checking WhatsApp bridge status: %v", err),
		})
		return
	}
	s.resetStatus("qr_autostart")
	writeJSON(w, http.StatusOK, statusResponse{
		Status:  "restarting",
		Message: "WhatsApp bridge was not running, attempting to restart",
	})
}

func authenticatedResponse() statusResponse {
	return statusResponse{Status: "authenticated", Message: "WhatsApp is authenticated"}
}

// handleQRImage renders the raw pairing code as a PNG QR code.
func (s *Server) handleQRImage(w http.ResponseWriter, r *http.Request) {
	if !s.tracker.IsAuthenticated() {
		if _, err := s.scanner.ScanNow(); err != nil && !errors.Is(err, errors.ErrLogNotFound) {
			s.logger.Warn("QR scan failed", "error", err)
		}
	}

	code := s.tracker.Snapshot().PairingCode
	if code == "" {
		writeJSON(w, http.StatusNotFound, statusResponse{
			Status:  "error",
			Message: "No pairing code available",
		})
		return
	}

	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, statusResponse{
			Status:  "error",
			Message: fmt.Sprintf("Error rendering QR code: %v", err),
		})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := detect.TailLines(s.bridge.LogPath(), s.opts.TailLines)
	switch {
	case errors.Is(err, errors.ErrLogNotFound):
		writeJSON(w, http.StatusOK, logsResponse{Logs: "No logs found yet"})
	case err != nil:
		writeJSON(w, http.StatusOK, logsResponse{Logs: fmt.Sprintf("Error reading logs: %v", err)})
	default:
		writeJSON(w, http.StatusOK, logsResponse{Logs: strings.TrimSuffix(logs, "\n")})
	}
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.bridge.Restart(s.baseCtx); err != nil {
		s.logger.Error("bridge restart failed", "error", err)
		writeJSON(w, http.StatusOK, statusResponse{
			Status:  "error",
			Message: fmt.Sprintf("Error restarting bridge: %v", err),
		})
		return
	}
	s.resetStatus("restart")
	writeJSON(w, http.StatusOK, statusResponse{
		Status:  "restarting",
		Message: "WhatsApp bridge is restarting",
	})
}

// resetStatus forgets the previous bridge's pairing state after a start.
func (s *Server) resetStatus(reason string) {
	s.tracker.Reset()
	s.scanner.Reset()
	if s.bus != nil {
		s.bus.Publish(event.NewStatusResetEvent(reason))
	}
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	tool := chi.URLParam(r, "tool")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxToolBody+1))
	if err == nil && len(body) > maxToolBody {
		err = fmt.Errorf("request body too large")
	}
	if err != nil {
		writeJSON(w, http.StatusOK, toolFailure{Message: fmt.Sprintf("Error processing request: %v", err)})
		return
	}

	resp := s.dispatcher.Call(r.Context(), tool, body, RequestIDFrom(r.Context()))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusNotFound, statusResponse{Status: "error", Message: "Event journal is disabled"})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error", Message: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxEventsLimit)
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read journal", "error", err)
		writeJSON(w, http.StatusInternalServerError, statusResponse{
			Status:  "error",
			Message: fmt.Sprintf("Error reading events: %v", err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}
