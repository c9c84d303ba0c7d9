package api

import (
	"errors"
	"net/http"

	"gitlab.com/glidex/control-plane/vm"
)

// statusFor maps registry errors onto HTTP statuses. Anything the registry
// does not classify is a plain internal error.
func statusFor(err error) int {
	var transErr *vm.InvalidTransitionError
	var cfgErr *vm.InvalidConfigError

	switch {
	case errors.Is(err, vm.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vm.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, vm.ErrConsoleUnavailable):
		return http.StatusConflict
	case errors.As(err, &transErr):
		return http.StatusConflict
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
