package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/cwrk-planet/consult-service/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestToHTTP(t *testing.T) {
	timeout := fmt.Errorf("%w: append timed out: %w", domain.ErrPersistence, context.DeadlineExceeded)

	tests := []struct {
		err  error
		code int
		name string
	}{
		{fmt.Errorf("%w: body is empty", domain.ErrValidation), http.StatusBadRequest, "validation"},
		{fmt.Errorf("%w: bad token", domain.ErrUnauthorized), http.StatusUnauthorized, "unauthorized"},
		{fmt.Errorf("%w: not yours", domain.ErrForbidden), http.StatusForbidden, "forbidden"},
		{fmt.Errorf("%w: message", domain.ErrNotFound), http.StatusNotFound, "not_found"},
		{timeout, http.StatusServiceUnavailable, "persistence"},
		{fmt.Errorf("%w: disk full", domain.ErrPersistence), http.StatusInternalServerError, "persistence"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.code, ToHTTP(tt.err), tt.err.Error())
		require.Equal(t, tt.name, Code(tt.err), tt.err.Error())
	}
}

func TestPublicHidesStorageDetails(t *testing.T) {
	err := fmt.Errorf("%w: badger append: %w", domain.ErrPersistence, errors.New("/var/lib/consult/000001.vlog: no space left"))
	require.Equal(t, "message store unavailable", Public(err))
	require.Equal(t, "internal error", Public(errors.New("nil map")))

	v := fmt.Errorf("%w: body is empty", domain.ErrValidation)
	require.Equal(t, v.Error(), Public(v))
}
