package server

import (
	"encoding/json"
	"net/http"
)

// statusResponse is the shape of the status, QR and restart endpoints.
type statusResponse struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	QR             string `json:"qr,omitempty"`
	TimeSinceStart string `json:"time_since_start,omitempty"`
	RestartURL     string `json:"restart_url,omitempty"`
}

// rootResponse is returned by GET /.
type rootResponse struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	Uptime        string `json:"uptime"`
	Authenticated bool   `json:"authenticated"`
	QRGenerated   bool   `json:"qr_generated"`
	BridgeState   string `json:"bridge_state"`
}

type logsResponse struct {
	Logs string `json:"logs"`
}

type toolFailure struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
