package remote

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	apperrors "github.com/kimhsiao/shule/backend/internal/errors"
)

// AppError converts a client error into the application taxonomy. A nil
// error stays nil.
func AppError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden:
			return apperrors.Wrap(apperrors.ErrRemoteAuth, op, err)
		case se.Status == http.StatusTooManyRequests:
			return apperrors.Wrap(apperrors.ErrRemoteLimits, op, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.ErrSyncTimeout, op, err)
	}
	return apperrors.Wrap(apperrors.ErrRemote, op, err)
}
