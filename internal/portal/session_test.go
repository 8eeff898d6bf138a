package portal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinicops/portal-sync/internal/mirror"
)

// countingDriver wraps a fake handle and counts full logins.
type countingDriver struct {
	Driver
	logins int
}

func (d *countingDriver) Login(ctx context.Context, system mirror.System) error {
	d.logins++
	return d.Driver.Login(ctx, system)
}

func TestEnsureAuthenticatedReusesLiveSession(t *testing.T) {
	backend := NewFakeBackend("user", "pass")
	drv := &countingDriver{Driver: backend.Driver()}
	sess := NewSession(drv, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, sess.EnsureAuthenticated(ctx, mirror.SystemPrimary))
	require.NoError(t, sess.EnsureAuthenticated(ctx, mirror.SystemPrimary))
	require.NoError(t, sess.EnsureAuthenticated(ctx, mirror.SystemPrimary))

	assert.Equal(t, 1, drv.logins, "a live session must be probed, not re-built")
}

func TestEnsureAuthenticatedRecoversExpiredSession(t *testing.T) {
	backend := NewFakeBackend("user", "pass")
	inner := backend.Driver().(*fakeDriver)
	drv := &countingDriver{Driver: inner}
	sess := NewSession(drv, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, sess.EnsureAuthenticated(ctx, mirror.SystemPrimary))
	inner.ExpireSession()
	require.NoError(t, sess.EnsureAuthenticated(ctx, mirror.SystemPrimary))

	assert.Equal(t, 2, drv.logins)
}

func TestEnsureAuthenticatedSwitchesSystem(t *testing.T) {
	backend := NewFakeBackend("user", "pass")
	drv := &countingDriver{Driver: backend.Driver()}
	sess := NewSession(drv, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, sess.EnsureAuthenticated(ctx, mirror.SystemPrimary))
	require.NoError(t, sess.EnsureAuthenticated(ctx, mirror.SystemLegacy))

	system, ok := sess.System()
	assert.True(t, ok)
	assert.Equal(t, mirror.SystemLegacy, system)
	assert.Equal(t, 2, drv.logins, "switching systems drops the session")
}

func TestEnsureAuthenticatedFailsWithoutCredentials(t *testing.T) {
	backend := NewFakeBackend("", "")
	sess := NewSession(backend.Driver(), zap.NewNop())

	err := sess.EnsureAuthenticated(context.Background(), mirror.SystemPrimary)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestEnsureOnScreenRequiresAuth(t *testing.T) {
	backend := NewFakeBackend("user", "pass")
	sess := NewSession(backend.Driver(), zap.NewNop())

	err := sess.EnsureOnScreen(context.Background(), ScreenSchedule)
	assert.ErrorIs(t, err, ErrUnexpectedState)
}

func TestEnsureOnScreenIsIdempotent(t *testing.T) {
	backend := NewFakeBackend("user", "pass")
	sess := NewSession(backend.Driver(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, sess.EnsureAuthenticated(ctx, mirror.SystemPrimary))
	require.NoError(t, sess.EnsureOnScreen(ctx, ScreenHistory))
	require.NoError(t, sess.EnsureOnScreen(ctx, ScreenHistory))

	ok, err := sess.Driver().OnScreen(ctx, ScreenHistory)
	require.NoError(t, err)
	assert.True(t, ok)
}
