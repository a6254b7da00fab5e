package httpx

import (
	"context"
	"encoding/json"
	"net/http"
)

// APIError is the error body every endpoint returns.
type APIError struct {
	Error        string `json:"error"`
	Details      string `json:"details,omitempty"`
	RetryAfterMS *int64 `json:"retry_after_ms,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, msg, details string) {
	WriteJSON(w, status, APIError{Error: msg, Details: details})
}

// DecodeJSON reads a single JSON object from the request body. Bodies larger
// than 1 MiB are rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(dst)
}

type requestIDKey struct{}

// WithRequestID stores the request id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id set by the request id middleware, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
