package portal

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/clinicops/portal-sync/internal/mirror"
)

// Session tracks what the driver's browser is currently showing so that
// repeated EnsureAuthenticated / EnsureOnScreen calls cost a probe instead of
// a full login or navigation sequence. A session belongs to exactly one job
// at a time and is never shared across systems: switching systems drops the
// whole state and re-authenticates.
type Session struct {
	drv Driver
	log *zap.Logger

	system mirror.System
	authed bool
	screen Screen
}

func NewSession(drv Driver, log *zap.Logger) *Session {
	return &Session{drv: drv, log: log}
}

// Driver exposes the underlying driver for operations that do not change
// session state (grid reads, exports, calendar mutations).
func (s *Session) Driver() Driver {
	return s.drv
}

// System reports which back-end instance the session is authenticated
// against, if any.
func (s *Session) System() (mirror.System, bool) {
	return s.system, s.authed
}

// Invalidate drops all tracked state; the next Ensure* call rebuilds it.
func (s *Session) Invalidate() {
	s.authed = false
	s.screen = ScreenNone
}

// EnsureAuthenticated is a no-op when already logged into system and the
// liveness probe passes. Authentication failure is fatal for the calling job;
// retrying bad credentials or a portal outage in a loop would only hide it.
func (s *Session) EnsureAuthenticated(ctx context.Context, system mirror.System) error {
	if s.authed && s.system == system {
		alive, err := s.drv.LoggedIn(ctx, system)
		if err == nil && alive {
			return nil
		}
		s.log.Debug("session liveness probe failed, re-authenticating",
			zap.String("system", string(system)), zap.Error(err))
		s.Invalidate()
	}

	if s.authed && s.system != system {
		s.log.Info("switching portal system",
			zap.String("from", string(s.system)), zap.String("to", string(system)))
		s.Invalidate()
	}

	if err := s.drv.Login(ctx, system); err != nil {
		return fmt.Errorf("%w: login to %s: %v", ErrAuthFailed, system, err)
	}

	s.system = system
	s.authed = true
	s.screen = ScreenNone
	return nil
}

// EnsureOnScreen is a no-op when the screen's anchor probe succeeds. On a
// failed navigation it invalidates the tracked screen and retries the full
// sequence once, then gives up.
func (s *Session) EnsureOnScreen(ctx context.Context, screen Screen) error {
	if !s.authed {
		return fmt.Errorf("%w: navigate to %s without an authenticated session", ErrUnexpectedState, screen)
	}

	if s.screen == screen {
		ok, err := s.drv.OnScreen(ctx, screen)
		if err == nil && ok {
			return nil
		}
		s.log.Debug("screen presence probe failed, re-navigating",
			zap.String("screen", string(screen)), zap.Error(err))
		s.screen = ScreenNone
	}

	if err := s.drv.NavigateTo(ctx, screen); err == nil {
		s.screen = screen
		return nil
	}

	// One retry after dropping state; a stale frame often clears on the
	// second full sequence.
	s.screen = ScreenNone
	if err := s.drv.NavigateTo(ctx, screen); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNavigation, screen, err)
	}

	s.screen = screen
	return nil
}
