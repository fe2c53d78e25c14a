package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/media-vault/internal/domain"
	"github.com/vertextoedge/media-vault/internal/domain/vo"
)

// statusFor maps the domain error taxonomy to a status code and a fixed client message
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrRangeNotSatisfiable):
		return http.StatusRequestedRangeNotSatisfiable, ""
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnsupportedFormat):
		return http.StatusBadRequest, "Bad request"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, domain.ErrUnavailable), errors.Is(err, domain.ErrAlreadyInUse), domain.IsRetryable(err):
		return http.StatusServiceUnavailable, "Temporarily unavailable"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// writeError writes the response for err. Details are only logged.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status, msg := statusFor(err)

	if status == http.StatusRequestedRangeNotSatisfiable {
		var re *domain.UnsatisfiableRangeError
		if errors.As(err, &re) {
			w.Header().Set("Content-Range", vo.UnsatisfiedContentRange(re.Total))
		}
		w.WriteHeader(status)
		return
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	} else {
		logger.Debug("request rejected",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}

	if status == http.StatusServiceUnavailable {
		if after, ok := domain.GetRetryAfter(err); ok && after > 0 {
			w.Header().Set("Retry-After", retryAfterSeconds(after))
		}
	}
	http.Error(w, msg, status)
}

// retryAfterSeconds rounds d up to whole seconds
func retryAfterSeconds(d time.Duration) string {
	return strconv.FormatInt(int64((d+time.Second-1)/time.Second), 10)
}
