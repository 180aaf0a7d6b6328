package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tascade/tascade/internal/types"
)

// errorEnvelope is the uniform error body, identical to the tool surface.
type errorEnvelope struct {
	Error *types.Error `json:"error"`
}

func writeJSON(log zerolog.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps a domain error onto its HTTP status. Errors outside the
// taxonomy become an opaque 500; the real cause goes to the log only.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	de, ok := types.AsError(err)
	if !ok {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("internal error")
		writeJSON(s.log, w, http.StatusInternalServerError, errorEnvelope{
			Error: &types.Error{Code: "INTERNAL", Message: "internal error"},
		})
		return
	}
	writeJSON(s.log, w, statusFor(de.Code), errorEnvelope{Error: de})
}

// writeAuthFailure is the middleware's 401; handler-level AUTH_DENIED maps
// to 403 through statusFor.
func (s *Server) writeAuthFailure(w http.ResponseWriter, r *http.Request, err error) {
	de, ok := types.AsError(err)
	if !ok {
		de = types.NewError(types.ErrAuthDenied, "authentication failed")
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="tascade"`)
	writeJSON(s.log, w, http.StatusUnauthorized, errorEnvelope{Error: de})
}

func statusFor(code types.ErrorCode) int {
	switch code {
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrAuthDenied:
		return http.StatusForbidden
	case types.ErrPlanStale, types.ErrConflict, types.ErrReservationConflict, types.ErrLeaseFenced:
		return http.StatusConflict
	case types.ErrLeaseStale:
		return http.StatusGone
	case types.ErrInvariantViolation, types.ErrDependencyCycle:
		return http.StatusUnprocessableEntity
	case types.ErrInvalidCapabilities, types.ErrInvalidTaskClass, types.ErrInvalidWorkSpec,
		types.ErrAmbiguousReference, types.ErrIdentifierParentRequired:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
