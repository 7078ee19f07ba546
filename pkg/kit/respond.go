package kit

import (
	"encoding/json"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// ErrorResponse is the failure envelope: a human-readable message, the
// underlying error text where the handler chose to expose it, and the
// request id for correlation. Stack traces never leave the process.
type ErrorResponse struct {
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	resp := ErrorResponse{
		Message:   msg,
		RequestID: chimw.GetReqID(r.Context()),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	WriteJSON(w, status, resp)
}
