// Package session tracks client sessions and which engineer each belongs to
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/cloud-shuttle/fieldsync/pkg/types"
	"github.com/google/uuid"
)

// Store is the persistence a Registry needs
type Store interface {
	CreateSession(ctx context.Context, sess *types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	SetSessionEngineer(ctx context.Context, id, engineerID string, at int64) error
	TouchSession(ctx context.Context, id string, at int64) error
	DeleteSession(ctx context.Context, id string) error
	ListSessionsByEngineers(ctx context.Context, engineerIDs []string) ([]types.SessionRef, error)
	PurgeSessions(ctx context.Context, cutoff int64) (int64, error)
}

// Registry manages session lifecycle
type Registry struct {
	store Store
	now   func() time.Time
}

// NewRegistry creates a registry backed by store
func NewRegistry(store Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// Create starts a new unidentified session
func (r *Registry) Create(ctx context.Context) (*types.Session, error) {
	now := r.now().UnixMilli()
	sess := &types.Session{ID: uuid.New().String(), CreatedAt: now, LastAccess: now}
	if err := r.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Identify binds a session to an authenticated engineer
func (r *Registry) Identify(ctx context.Context, sessionID, engineerID string) error {
	if engineerID == "" {
		return fmt.Errorf("identifying session %s: empty engineer id", sessionID)
	}
	return r.store.SetSessionEngineer(ctx, sessionID, engineerID, r.now().UnixMilli())
}

// Get returns a session
func (r *Registry) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	return r.store.GetSession(ctx, sessionID)
}

// Touch records activity
func (r *Registry) Touch(ctx context.Context, sessionID string) error {
	return r.store.TouchSession(ctx, sessionID, r.now().UnixMilli())
}

// Destroy ends a session
func (r *Registry) Destroy(ctx context.Context, sessionID string) error {
	return r.store.DeleteSession(ctx, sessionID)
}

// SessionsFor returns the identified sessions of the given engineers
func (r *Registry) SessionsFor(ctx context.Context, engineerIDs []string) ([]types.SessionRef, error) {
	return r.store.ListSessionsByEngineers(ctx, engineerIDs)
}

// Purge removes unidentified sessions and sessions idle since before cutoff
func (r *Registry) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.store.PurgeSessions(ctx, cutoff.UnixMilli())
}
