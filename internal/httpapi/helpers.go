package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"resqlink.org/internal/auth"
	"resqlink.org/internal/emergency"
	"resqlink.org/internal/identity"
	"resqlink.org/internal/policy"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleServiceError renders domain errors. Denials are 403: the caller is
// authenticated, the policy said no.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, policy.ErrAccessDenied):
		writeError(w, r, http.StatusForbidden, "access denied")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, emergency.ErrInvalidInput), errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, trimSentinel(err.Error()))
	case errors.Is(err, emergency.ErrNotFound), errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, identity.ErrConflict):
		writeError(w, r, http.StatusConflict, "already registered")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// trimSentinel drops the package prefix of wrapped sentinel messages, so
// clients see "description is required" rather than the internal chain.
func trimSentinel(msg string) string {
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}

func queryVillageID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("village_id"))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.New("village_id must be a non-negative integer")
	}
	return v, nil
}
