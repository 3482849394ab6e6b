package close

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestTxErrorReportsLostRacesAsConcurrentUpdates(t *testing.T) {
	for _, code := range []string{"40001", "40P01"} {
		pgErr := &pgconn.PgError{Code: code}
		err := txError(fmt.Errorf("commit: %w", pgErr))
		require.ErrorIs(t, err, ErrConcurrentUpdate, code)
		require.ErrorAs(t, err, &pgErr)
	}

	require.NoError(t, txError(nil))
	unique := &pgconn.PgError{Code: "23505"}
	require.Same(t, unique, txError(unique))
	require.False(t, errors.Is(txError(unique), ErrConcurrentUpdate))

	stale := fmt.Errorf("%w: close 4", ErrConcurrentUpdate)
	require.Same(t, stale, txError(stale))
}
