// Package controlplane wires the persistence layer to the session engine.
package controlplane

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/flock/pkg/controlplane/models"
	"github.com/marmos91/flock/pkg/controlplane/store"
	"github.com/marmos91/flock/pkg/engine"
)

// EngineValidator adapts the control plane store to the engine's
// SessionValidator interface, so the session directory only starts
// coordinators for sessions the control plane considers live.
type EngineValidator struct {
	store store.Store
}

// NewEngineValidator wraps a store.
func NewEngineValidator(s store.Store) *EngineValidator {
	return &EngineValidator{store: s}
}

// ValidateSession implements engine.SessionValidator. Sessions that are
// missing, ended or expired all surface as engine.ErrSessionNotFound; the
// engine does not distinguish why a session cannot start.
func (v *EngineValidator) ValidateSession(ctx context.Context, sessionID string) (engine.SessionInfo, error) {
	session, err := v.store.GetLiveSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) ||
			errors.Is(err, models.ErrSessionEnded) ||
			errors.Is(err, models.ErrSessionExpired) {
			return engine.SessionInfo{}, fmt.Errorf("%w: %s", engine.ErrSessionNotFound, sessionID)
		}
		return engine.SessionInfo{}, err
	}
	return engine.SessionInfo{ID: session.ID, ExpiresAt: session.ExpiresAt}, nil
}

var _ engine.SessionValidator = (*EngineValidator)(nil)
