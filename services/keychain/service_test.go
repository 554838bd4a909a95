package keychain

import (
	"context"
	"testing"
	"time"

	"gymassist-backend/lib/testutil"
	"gymassist-backend/services/keychain/db"

	"github.com/stretchr/testify/require"
)

func setup(t testing.TB) (Service, func()) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/keychain",
		DbSchema: db.Schema,
	})
	return NewService(res.DB), cleanup
}

func TestService(t *testing.T) {
	service, cleanup := setup(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	_, _, err := service.Get(ctx, "clubos")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, service.Set(ctx, "clubos", "frontdesk@example.com", "hunter2"))
	require.NoError(t, service.Set(ctx, "clubos-staging", "qa@example.com", "qa-pass"))

	username, password, err := service.Get(ctx, "clubos")
	require.NoError(t, err)
	require.Equal(t, "frontdesk@example.com", username)
	require.Equal(t, "hunter2", password)

	// overwrite in place
	require.NoError(t, service.Set(ctx, "clubos", "frontdesk@example.com", "hunter3"))
	_, password, err = service.Get(ctx, "clubos")
	require.NoError(t, err)
	require.Equal(t, "hunter3", password)

	namespaces, err := service.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"clubos", "clubos-staging"}, namespaces)

	require.NoError(t, service.Delete(ctx, "clubos"))
	_, _, err = service.Get(ctx, "clubos")
	require.ErrorIs(t, err, ErrNotFound)
}
