package sessionstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/pkg/models"
)

// journalEntryType discriminates the line-oriented journal format.
type journalEntryType string

const (
	entrySession journalEntryType = "session"
	entryMessage journalEntryType = "message"
	entryDelete  journalEntryType = "delete"
)

// journalEntry is one line of the append-only journal: {type, uuid,
// session_id, parent_uuid?, timestamp, payload}, per spec §6.
type journalEntry struct {
	Type      journalEntryType `json:"type"`
	UUID      string           `json:"uuid"`
	SessionID string           `json:"session_id"`
	ParentUUID *string         `json:"parent_uuid,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload"`
}

// JournalStore is the line-appended JSON journal backend. Each session is
// one append-only file at <root>/projects/<encoded-cwd>/<session-uuid>.jsonl;
// loads scan the file, dedupe by uuid, and reconstruct the branch via
// parent_uuid. Grounded on the teacher's journal-persistence layout.
type JournalStore struct {
	root string
	cwd  string

	mu    sync.Mutex
	cache map[string]*models.Session
}

// NewJournalStore creates a backend rooted at root for the given project
// working directory (used to namespace session files, matching
// <root>/projects/<encoded-cwd>/).
func NewJournalStore(root, cwd string) *JournalStore {
	return &JournalStore{root: root, cwd: cwd, cache: make(map[string]*models.Session)}
}

// EncodeCwd replaces path separators with "-", matching the journal path
// format in spec §6.
func EncodeCwd(cwd string) string {
	return strings.ReplaceAll(cwd, string(filepath.Separator), "-")
}

func (s *JournalStore) sessionPath(id string) string {
	return filepath.Join(s.root, "projects", EncodeCwd(s.cwd), id+".jsonl")
}

func (s *JournalStore) appendEntry(path string, e journalEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("journal: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open: %w", err)
	}
	defer f.Close()
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	return nil
}

func (s *JournalStore) Save(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.appendEntry(s.sessionPath(sess.ID), journalEntry{
		Type: entrySession, UUID: uuid.NewString(), SessionID: sess.ID,
		Timestamp: time.Now(), Payload: payload,
	}); err != nil {
		return err
	}
	cp := *sess
	s.cache[sess.ID] = &cp
	return nil
}

func (s *JournalStore) Load(ctx context.Context, id string) (*models.Session, []models.Message, error) {
	path := s.sessionPath(id)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("journal: open: %w", err)
	}
	defer f.Close()

	var sess *models.Session
	seen := make(map[string]bool)
	var msgs []models.Message

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e journalEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // tolerate partial trailing writes
		}
		switch e.Type {
		case entrySession:
			var sv models.Session
			if err := json.Unmarshal(e.Payload, &sv); err == nil {
				sess = &sv
			}
		case entryMessage:
			if seen[e.UUID] {
				continue
			}
			var mv models.Message
			if err := json.Unmarshal(e.Payload, &mv); err == nil {
				seen[e.UUID] = true
				msgs = append(msgs, mv)
			}
		case entryDelete:
			return nil, nil, ErrNotFound
		}
	}
	if sess == nil {
		return nil, nil, ErrNotFound
	}
	return sess, msgs, nil
}

func (s *JournalStore) Delete(ctx context.Context, id string) error {
	path := s.sessionPath(id)
	if err := s.appendEntry(path, journalEntry{Type: entryDelete, UUID: uuid.NewString(), SessionID: id, Timestamp: time.Now()}); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
	return os.Remove(path)
}

func (s *JournalStore) List(ctx context.Context, filter ListFilter) ([]*models.Session, error) {
	dir := filepath.Join(s.root, "projects", EncodeCwd(s.cwd))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*models.Session
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(de.Name(), ".jsonl")
		sess, _, err := s.Load(ctx, id)
		if err != nil {
			continue
		}
		if filter.TenantID != "" && sess.TenantID != filter.TenantID {
			continue
		}
		if filter.State != "" && sess.State != filter.State {
			continue
		}
		out = append(out, sess)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *JournalStore) ListChildren(ctx context.Context, id string) ([]*models.Session, error) {
	all, err := s.List(ctx, ListFilter{})
	if err != nil {
		return nil, err
	}
	var out []*models.Session
	for _, sess := range all {
		if sess.ParentID != nil && *sess.ParentID == id {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *JournalStore) AppendMessage(ctx context.Context, sessionID string, m models.Message, price models.ModelPrice) error {
	sess, _, err := s.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	if m.UUID == "" {
		m.UUID = uuid.NewString()
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := s.appendEntry(s.sessionPath(sessionID), journalEntry{
		Type: entryMessage, UUID: m.UUID, SessionID: sessionID, ParentUUID: m.ParentID,
		Timestamp: time.Now(), Payload: payload,
	}); err != nil {
		return err
	}
	leaf := m.UUID
	sess.CurrentLeafID = &leaf
	if m.Usage != nil {
		sess.TotalUsage.Add(*m.Usage)
		sess.TotalCostUSD += price.CostUSD(*m.Usage)
	}
	sess.UpdatedAt = time.Now()
	return s.Save(ctx, sess)
}

func (s *JournalStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	all, err := s.List(ctx, ListFilter{})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sess := range all {
		if sess.ExpiresAt != nil && !sess.ExpiresAt.After(now) {
			if err := s.Delete(ctx, sess.ID); err == nil {
				n++
			}
		}
	}
	return n, nil
}

func (s *JournalStore) Fork(ctx context.Context, sourceSessionID, leafID, newSessionID string) (*models.Session, error) {
	src, msgs, err := s.Load(ctx, sourceSessionID)
	if err != nil {
		return nil, err
	}
	branch := Branch(msgs, leafID)

	idMap := make(map[string]string, len(branch))
	parentRef := sourceSessionID
	child := &models.Session{
		ID: newSessionID, TenantID: src.TenantID, AgentID: src.AgentID,
		ParentID: &parentRef, State: models.SessionActive,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := s.Save(ctx, child); err != nil {
		return nil, err
	}
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
			} else {
				cp.ParentID = nil
			}
		}
		if err := s.AppendMessage(ctx, newSessionID, cp, models.ModelPrice{}); err != nil {
			return nil, err
		}
	}
	return s.Load2(ctx, newSessionID)
}

// Load2 is a tiny helper returning just the session, used after Fork.
func (s *JournalStore) Load2(ctx context.Context, id string) (*models.Session, error) {
	sess, _, err := s.Load(ctx, id)
	return sess, err
}
