package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"file-exchanger/internal/rooms"
	"file-exchanger/internal/storage"
)

// maxJSONBody caps request bodies of the JSON endpoints.
const maxJSONBody = 64 << 10

var errMalformedJSON = errors.New("malformed JSON body")

// statusFor maps a handler error to its HTTP status.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errMalformedJSON),
		errors.Is(err, rooms.ErrPasswordTooShort),
		errors.Is(err, rooms.ErrPasswordTooLong),
		errors.Is(err, rooms.ErrMissingRoomID),
		errors.Is(err, storage.ErrInvalidName),
		errors.Is(err, storage.ErrSizeMismatch):
		return http.StatusBadRequest
	case errors.Is(err, rooms.ErrWrongPassword):
		return http.StatusForbidden
	case errors.Is(err, rooms.ErrRoomNotFound),
		errors.Is(err, storage.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, rooms.ErrLocked):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage is the text a client sees for err. Internal failures never
// expose their cause.
func clientMessage(err error, status int) string {
	switch {
	case status == http.StatusRequestEntityTooLarge:
		return "file too large"
	case errors.Is(err, rooms.ErrPasswordTooShort):
		return err.Error()
	case errors.Is(err, storage.ErrNotExist):
		return "file not found"
	case errors.Is(err, rooms.ErrLocked):
		return "too many failed attempts, try again later"
	case errors.Is(err, rooms.ErrCorruptRoom):
		return "room is corrupted"
	case status >= http.StatusInternalServerError:
		return "internal server error"
	}
	for _, known := range []error{
		errMalformedJSON,
		rooms.ErrPasswordTooLong,
		rooms.ErrMissingRoomID,
		rooms.ErrWrongPassword,
		rooms.ErrRoomNotFound,
		storage.ErrInvalidName,
		storage.ErrSizeMismatch,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return http.StatusText(status)
}

// writeError answers with the status mapped from err, as {"error": ...}
// when asJSON is set and as plain text otherwise. Server side failures are
// logged with the request id.
func writeError(w http.ResponseWriter, r *http.Request, err error, asJSON bool) {
	status := statusFor(err)
	msg := clientMessage(err, status)

	if status >= http.StatusInternalServerError {
		Error("request_failed", map[string]any{
			"rid":    RequestIDFromContext(r.Context()),
			"method": r.Method,
			"path":   r.URL.Path,
		}, err)
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}

	if asJSON {
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}
	http.Error(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a size capped JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("%w: %v", errMalformedJSON, err)
	}
	return nil
}
