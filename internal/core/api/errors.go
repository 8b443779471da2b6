package api

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/solatis/formkeeper/internal/core/db"
	"github.com/solatis/formkeeper/internal/types"
)

// Code maps a service error to a gRPC code. Auth errors are mapped by the
// auth interceptor. Store errors map to UNAVAILABLE.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, types.ErrUnknownSchema), errors.Is(err, db.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, types.ErrWildcardInPath),
		errors.Is(err, types.ErrEmptyPath),
		errors.Is(err, types.ErrPathTooDeep),
		errors.Is(err, types.ErrPayloadTooLarge),
		errors.Is(err, types.ErrInvalidSchema):
		return codes.InvalidArgument
	case errors.Is(err, ErrNoStore):
		return codes.Unimplemented
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Unavailable
	}
}

// HTTPStatus maps a service error to an HTTP status.
func HTTPStatus(err error) int {
	switch Code(err) {
	case codes.OK:
		return http.StatusOK
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Canceled:
		return 499
	default:
		return http.StatusServiceUnavailable
	}
}
