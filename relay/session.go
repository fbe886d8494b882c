package relay

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/vultisig/vultisig-mediator/storage"
)

// SessionRegistry tracks the participants of each session, the subset started for the current
// round and the participants that reported completion.
type SessionRegistry struct {
	joined    storage.KeyedStore[[]string]
	started   storage.KeyedStore[[]string]
	completed storage.KeyedStore[[]string]
}

func NewSessionRegistry(b *storage.Backend) *SessionRegistry {
	return &SessionRegistry{
		joined:    storage.Open[[]string](b, "session"),
		started:   storage.Open[[]string](b, "start"),
		completed: storage.Open[[]string](b, "complete"),
	}
}

// Join creates the session when absent and adds the participants that are not in it yet.
// First join order is kept.
func (r *SessionRegistry) Join(ctx context.Context, sessionID string, participantIDs ...string) error {
	sessionID, err := requireID("session ID", sessionID)
	if err != nil {
		return err
	}
	ids, err := cleanIDs(participantIDs)
	if err != nil {
		return err
	}
	if err := r.joined.Update(ctx, sessionID, merge(ids)); err != nil {
		return fmt.Errorf("fail to join session %s, err: %w", sessionID, err)
	}
	return nil
}

// Participants returns the participants of a session.
func (r *SessionRegistry) Participants(ctx context.Context, sessionID string) ([]string, error) {
	return r.list(ctx, r.joined, sessionID)
}

// Delete removes a session together with its started and completed sets.
func (r *SessionRegistry) Delete(ctx context.Context, sessionID string) error {
	sessionID, err := requireID("session ID", sessionID)
	if err != nil {
		return err
	}
	for _, s := range []storage.KeyedStore[[]string]{r.joined, r.started, r.completed} {
		if err := s.Delete(ctx, sessionID); err != nil {
			return fmt.Errorf("fail to delete session %s, err: %w", sessionID, err)
		}
	}
	return nil
}

// Start replaces the started participants of a session. A coordinator retrying a failed
// round redefines the set rather than adding to it.
func (r *SessionRegistry) Start(ctx context.Context, sessionID string, participantIDs []string) error {
	sessionID, err := requireID("session ID", sessionID)
	if err != nil {
		return err
	}
	ids, err := cleanIDs(participantIDs)
	if err != nil {
		return err
	}
	if err := r.started.Set(ctx, sessionID, ids); err != nil {
		return fmt.Errorf("fail to start session %s, err: %w", sessionID, err)
	}
	return nil
}

func (r *SessionRegistry) Started(ctx context.Context, sessionID string) ([]string, error) {
	return r.list(ctx, r.started, sessionID)
}

// Complete records that participants finished the ceremony. Every device reports itself, so
// ids are merged.
func (r *SessionRegistry) Complete(ctx context.Context, sessionID string, participantIDs []string) error {
	sessionID, err := requireID("session ID", sessionID)
	if err != nil {
		return err
	}
	ids, err := cleanIDs(participantIDs)
	if err != nil {
		return err
	}
	if err := r.completed.Update(ctx, sessionID, merge(ids)); err != nil {
		return fmt.Errorf("fail to complete session %s, err: %w", sessionID, err)
	}
	return nil
}

func (r *SessionRegistry) Completed(ctx context.Context, sessionID string) ([]string, error) {
	return r.list(ctx, r.completed, sessionID)
}

// IsComplete reports whether every started participant has reported completion.
func (r *SessionRegistry) IsComplete(ctx context.Context, sessionID string) (bool, error) {
	started, err := r.Started(ctx, sessionID)
	if err != nil {
		return false, err
	}
	completed, err := r.Completed(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, p := range started {
		if !slices.Contains(completed, p) {
			return false, nil
		}
	}
	return true, nil
}

func (r *SessionRegistry) Clear(ctx context.Context) error {
	return errors.Join(r.joined.Clear(ctx), r.started.Clear(ctx), r.completed.Clear(ctx))
}

func (r *SessionRegistry) list(ctx context.Context, s storage.KeyedStore[[]string], sessionID string) ([]string, error) {
	sessionID, err := requireID("session ID", sessionID)
	if err != nil {
		return nil, err
	}
	ids, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("fail to get session %s, err: %w", sessionID, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return slices.Clone(ids), nil
}

// merge adds the ids missing from the current list, keeping the existing order.
func merge(ids []string) func([]string, bool) ([]string, error) {
	return func(current []string, _ bool) ([]string, error) {
		next := slices.Clone(current)
		if next == nil {
			next = []string{}
		}
		for _, id := range ids {
			if !slices.Contains(next, id) {
				next = append(next, id)
			}
		}
		return next, nil
	}
}

func cleanIDs(participantIDs []string) ([]string, error) {
	ids := make([]string, 0, len(participantIDs))
	for _, p := range participantIDs {
		id, err := requireID("participant ID", p)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
