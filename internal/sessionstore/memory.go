package sessionstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/pkg/models"
)

// MemoryStore is the reference in-memory backend: a map guarded by a single
// mutex. It is the fastest backend and the one used by default for
// subagent sessions that don't need to survive a process restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	messages map[string][]models.Message // sessionID -> flat list
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]models.Message),
	}
}

func (s *MemoryStore) Save(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*models.Session, []models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	cp := *sess
	msgs := append([]models.Message(nil), s.messages[id]...)
	return &cp, msgs, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Session
	for _, sess := range s.sessions {
		if filter.TenantID != "" && sess.TenantID != filter.TenantID {
			continue
		}
		if filter.State != "" && sess.State != filter.State {
			continue
		}
		cp := *sess
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ListChildren(ctx context.Context, id string) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Session
	for _, sess := range s.sessions {
		if sess.ParentID != nil && *sess.ParentID == id {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, sessionID string, m models.Message, price models.ModelPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if m.UUID == "" {
		m.UUID = uuid.NewString()
	}
	s.messages[sessionID] = append(s.messages[sessionID], m)

	leaf := m.UUID
	sess.CurrentLeafID = &leaf
	if m.Usage != nil {
		sess.TotalUsage.Add(*m.Usage)
		sess.TotalCostUSD += price.CostUSD(*m.Usage)
	}
	sess.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.ExpiresAt != nil && !sess.ExpiresAt.After(now) {
			delete(s.sessions, id)
			delete(s.messages, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Fork(ctx context.Context, sourceSessionID, leafID, newSessionID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sessions[sourceSessionID]
	if !ok {
		return nil, ErrNotFound
	}
	branch := Branch(s.messages[sourceSessionID], leafID)

	idMap := make(map[string]string, len(branch))
	copied := make([]models.Message, 0, len(branch))
	for _, m := range branch {
		newID := uuid.NewString()
		idMap[m.UUID] = newID
		cp := m
		cp.UUID = newID
		cp.SessionID = newSessionID
		cp.IsSidechain = true
		if cp.ParentID != nil {
			if mapped, ok := idMap[*cp.ParentID]; ok {
				cp.ParentID = &mapped
			}
		}
		copied = append(copied, cp)
	}

	parentRef := sourceSessionID
	child := &models.Session{
		ID:        newSessionID,
		TenantID:  src.TenantID,
		AgentID:   src.AgentID,
		ParentID:  &parentRef,
		State:     models.SessionActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if len(copied) > 0 {
		leaf := copied[len(copied)-1].UUID
		child.CurrentLeafID = &leaf
	}
	s.sessions[newSessionID] = child
	s.messages[newSessionID] = copied
	return child, nil
}
