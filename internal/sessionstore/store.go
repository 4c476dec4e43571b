// Package sessionstore implements the Session Store: three interchangeable
// backends (in-memory, line-appended JSON journal, relational/SQL) sharing
// one operation contract and one set of observable semantics, per the
// spec's §4.2. Grounded on the teacher's session-persistence idiom: a flat
// message list addressed by parent id, a journal path keyed by encoded cwd,
// and a relational schema with tenant/parent/state/session+created_at
// indexes.
package sessionstore

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ErrNotFound is returned by Load/Delete/AppendMessage when the session id
// is unknown to the backend.
var ErrNotFound = errors.New("sessionstore: not found")

// ListFilter narrows List to a tenant and/or state.
type ListFilter struct {
	TenantID string
	State    models.SessionState
	Limit    int
}

// Store is the operation contract every backend implements identically.
type Store interface {
	// Save upserts a session's metadata (not its messages).
	Save(ctx context.Context, s *models.Session) error

	// Load returns a session and its full message list (root to every
	// leaf the backend retains; callers walk ParentID from CurrentLeafID
	// to get the active branch).
	Load(ctx context.Context, id string) (*models.Session, []models.Message, error)

	// Delete removes a session and all of its messages.
	Delete(ctx context.Context, id string) error

	// List returns sessions matching filter, most recently updated first.
	List(ctx context.Context, filter ListFilter) ([]*models.Session, error)

	// ListChildren returns sessions whose ParentID equals id (subagent
	// sessions spawned from a Task call).
	ListChildren(ctx context.Context, id string) ([]*models.Session, error)

	// AppendMessage appends one message to a session's flat list,
	// recomputes CurrentLeafID and the session's cumulative usage/cost,
	// and persists both atomically with respect to concurrent readers of
	// that session.
	AppendMessage(ctx context.Context, sessionID string, m models.Message, price models.ModelPrice) error

	// CleanupExpired deletes every session whose ExpiresAt is non-nil and
	// at or before now, returning the count removed.
	CleanupExpired(ctx context.Context, now time.Time) (int, error)

	// Fork copies the branch ending at leafID into a new child session:
	// every copied message is marked IsSidechain, gets a fresh UUID, and
	// preserves its relative ParentID chain. The new session's ParentID
	// names the forked-from session.
	Fork(ctx context.Context, sourceSessionID, leafID string, newSessionID string) (*models.Session, error)
}

// Branch walks ParentID from leafID to a root and returns the messages in
// root-to-leaf order. It is a pure helper shared by every backend and by
// callers that already have the full message list in hand.
func Branch(messages []models.Message, leafID string) []models.Message {
	byID := make(map[string]models.Message, len(messages))
	for _, m := range messages {
		byID[m.UUID] = m
	}
	var chain []models.Message
	cur, ok := byID[leafID]
	for ok {
		chain = append(chain, cur)
		if cur.ParentID == nil {
			break
		}
		cur, ok = byID[*cur.ParentID]
	}
	// reverse into root-to-leaf order
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}
