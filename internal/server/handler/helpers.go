package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

// maxBodyBytes caps request bodies; every request here is a small JSON object.
const maxBodyBytes = 64 << 10

// writeJSON marshals v and writes it with status. A marshal failure becomes
// a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a JSON body into v, rejecting unknown fields. An empty
// body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed JSON body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// StatusFor maps an error to its HTTP status. A tally mismatch is a server
// error even when it also wraps a client-side kind such as ErrOverflow.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrTallyMismatch):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrAlreadyFinalized),
		errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPrecondition),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrOverflow):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError answers with the status of err. Server-side failures are
// logged and reported without internals.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := StatusFor(err)
	if status < http.StatusInternalServerError {
		writeError(w, status, publicMessage(err))
		return
	}
	logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("market", r.PathValue("market")),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	switch {
	case errors.Is(err, domain.ErrTallyMismatch):
		writeError(w, status, "tally mismatch: finalize aborted")
	case errors.Is(err, domain.ErrInvalidMarketKey):
		writeError(w, status, "stored market key is invalid")
	case errors.Is(err, domain.ErrLedgerUnavailable):
		writeError(w, status, "ledger unavailable, retry later")
	default:
		writeError(w, status, "internal error")
	}
}

// publicMessage drops the "pkg: op:" prefixes the layers below add.
func publicMessage(err error) string {
	msg := err.Error()
	for _, kind := range []error{
		domain.ErrPrecondition,
		domain.ErrAlreadyClaimed,
		domain.ErrNotFound,
		domain.ErrInvalidInput,
		domain.ErrAlreadyExists,
		domain.ErrUnauthorized,
		domain.ErrOverflow,
	} {
		if i := strings.Index(msg, kind.Error()); i >= 0 {
			return msg[i:]
		}
	}
	return msg
}

// intQuery parses a positive integer query parameter, returning def when it
// is absent, malformed or not positive. Paging is lenient: bad values never
// produce a 400.
func intQuery(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// sideValue accepts "A", "a", "B", "b", "1", "2" as strings or 1 and 2 as
// numbers.
type sideValue domain.Side

func (s *sideValue) UnmarshalJSON(data []byte) error {
	raw := string(bytes.TrimSpace(data))
	if unq, err := strconv.Unquote(raw); err == nil {
		raw = unq
	}
	side, err := domain.ParseSide(raw)
	if err != nil {
		return err
	}
	*s = sideValue(side)
	return nil
}
