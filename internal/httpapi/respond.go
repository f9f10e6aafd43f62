package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"corpusd/internal/dispatcher"
	"corpusd/internal/errs"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError classifies an application error into the right HTTP status,
// per the error-kind-to-status mapping, and attaches Retry-After when the
// error is rate-limiting related.
func writeAppError(w http.ResponseWriter, err error) {
	if rle, ok := err.(*dispatcher.RateLimitedError); ok {
		w.Header().Set("Retry-After", msToSeconds(rle.RetryAfterMs))
		writeError(w, http.StatusTooManyRequests, rle.Err.Message)
		return
	}
	if e, ok := errs.As(err); ok {
		writeError(w, errs.HTTPStatus(e.Kind), e.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func msToSeconds(ms int64) string {
	seconds := ms / 1000
	if seconds < 1 {
		seconds = 1
	}
	return strconv.FormatInt(seconds, 10)
}
