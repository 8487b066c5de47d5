package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the wire shape of every failure. The disabled-market
// condition reuses it with HTTP 200: clients treat that one as a soft state,
// not a fault.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type RateLimitResponse struct {
	Success       bool   `json:"success"`
	Error         string `json:"error"`
	RetryAfterSec int64  `json:"retryAfterSec"`
}

func Write(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	Write(w, status, ErrorResponse{Success: false, Error: message})
}
