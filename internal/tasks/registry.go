// Package tasks implements the Task Registry of spec §4.7: lifecycle
// bookkeeping and cooperative cancellation for subagent runs spawned by
// the Task tool. Grounded on the teacher's internal/process.CommandQueue
// lane/cancellation idiom (per-lane serialization, channel signaling) and
// on pkg/models.SubagentEntry for the persisted record shape.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/sessionstore"
	"github.com/haasonsaas/nexus/pkg/models"
)

// ErrUnknownTask is returned by operations targeting a task id the
// Registry has never seen.
type ErrUnknownTask struct{ ID string }

func (e *ErrUnknownTask) Error() string { return fmt.Sprintf("task: unknown task %q", e.ID) }

// Handle is whatever the caller needs to actively stop a running subagent
// (e.g. a cancel func closing over the subagent's streaming executor). The
// Task Registry does not know how to stop a subagent itself — it only
// brokers the cancellation signal and records outcome.
type Handle interface {
	Stop()
}

type entry struct {
	mu     sync.Mutex
	record models.SubagentEntry

	cancelCh chan struct{}
	cancelled bool

	handle Handle

	done   chan struct{}
	result string
	err    error
}

// Registry tracks every subagent task spawned for the lifetime of the
// process, keyed by task id. It also mirrors each task's lifecycle into a
// Subagent-kind Session via Store, per spec §4.7: the in-memory map is the
// cooperative-cancellation and polling surface, the Session is what
// survives the runtime handle being dropped.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*entry
	store sessionstore.Store
}

// New constructs an empty Registry. store may be nil, in which case task
// lifecycles are tracked in-memory only (used by tests that don't exercise
// persistence).
func New(store sessionstore.Store) *Registry {
	return &Registry{tasks: make(map[string]*entry), store: store}
}

// Register creates a new task record in the Active state, persists a
// matching Subagent-kind Session in state Active (spec §4.7: "creates a
// subagent-typed session in state Active"), and returns a channel closed
// exactly once, the moment Cancel succeeds for this id.
func (r *Registry) Register(ctx context.Context, id, parentSessionID, childSessionID, agentType, description string) <-chan struct{} {
	e := &entry{
		record: models.SubagentEntry{
			ID:              id,
			ParentSessionID: parentSessionID,
			ChildSessionID:  childSessionID,
			AgentType:       agentType,
			Description:     description,
			State:           models.SubagentActive,
			StartedAt:       time.Now(),
		},
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
	r.mu.Lock()
	r.tasks[id] = e
	r.mu.Unlock()

	if r.store != nil {
		now := time.Now()
		parent := parentSessionID
		session := &models.Session{
			ID:       childSessionID,
			ParentID: &parent,
			State:    models.SessionActive,
			Kind:     models.SessionKindSubagent,
			Subagent: &models.SubagentInfo{AgentType: agentType, Description: description},
			CreatedAt: now,
			UpdatedAt: now,
		}
		_ = r.store.Save(ctx, session)
	}

	return e.cancelCh
}

// SetHandle attaches the live Handle a later Cancel call will invoke. Set
// once the subagent's streaming executor actually starts running.
func (r *Registry) SetHandle(id string, h Handle) error {
	e, err := r.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.handle = h
	cancelled := e.cancelled
	e.mu.Unlock()
	if cancelled && h != nil {
		h.Stop()
	}
	return nil
}

// Complete marks id finished successfully with result text, transitions its
// Session to Completed, and appends result as a final assistant message.
func (r *Registry) Complete(ctx context.Context, id, result string) error {
	e, err := r.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.record.State != models.SubagentActive {
		e.mu.Unlock()
		return nil
	}
	now := time.Now()
	e.record.State = models.SubagentCompleted
	e.record.FinishedAt = &now
	e.result = result
	childSessionID := e.record.ChildSessionID
	close(e.done)
	e.mu.Unlock()

	r.finishSession(ctx, childSessionID, models.SessionCompleted, result, "")
	return nil
}

// Fail marks id finished with an error, transitions its Session to Failed,
// and appends the error as a final result message.
func (r *Registry) Fail(ctx context.Context, id string, failErr error) error {
	e, err := r.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.record.State != models.SubagentActive {
		e.mu.Unlock()
		return nil
	}
	now := time.Now()
	e.record.State = models.SubagentFailed
	e.record.FinishedAt = &now
	errText := ""
	if failErr != nil {
		errText = failErr.Error()
		e.record.Error = errText
	}
	e.err = failErr
	childSessionID := e.record.ChildSessionID
	close(e.done)
	e.mu.Unlock()

	r.finishSession(ctx, childSessionID, models.SessionFailed, "", errText)
	return nil
}

// finishSession loads the subagent's Session, transitions its state,
// appends a result/error message, and persists both. It is a best-effort
// mirror of the in-memory entry transition: persistence failures do not
// prevent the in-memory task outcome from being recorded, since the
// runtime handle (and its caller, blocked on WaitForCompletion) must not
// be held hostage by a storage hiccup.
func (r *Registry) finishSession(ctx context.Context, sessionID string, state models.SessionState, result, errText string) {
	if r.store == nil || sessionID == "" {
		return
	}
	session, _, err := r.store.Load(ctx, sessionID)
	if err != nil {
		return
	}
	session.State = state
	session.UpdatedAt = time.Now()
	if errText != "" {
		session.Error = errText
	}
	_ = r.store.Save(ctx, session)

	text := result
	if errText != "" {
		text = errText
	}
	if text == "" {
		return
	}
	msg := models.Message{
		UUID:      uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   []models.ContentBlock{models.NewTextBlock(text)},
		CreatedAt: time.Now(),
	}
	_ = r.store.AppendMessage(ctx, sessionID, msg, models.ModelPrice{})
}

// Cancel requests cooperative cancellation of id. Returns true the first
// time it transitions a still-active task to Cancelled, and false on every
// subsequent call or against an already-finished task — idempotent per
// spec §8 invariant 8.
func (r *Registry) Cancel(ctx context.Context, id string) (bool, error) {
	e, err := r.get(id)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	if e.cancelled || e.record.State != models.SubagentActive {
		e.mu.Unlock()
		return false, nil
	}
	e.cancelled = true
	now := time.Now()
	e.record.State = models.SubagentCancelled
	e.record.FinishedAt = &now
	childSessionID := e.record.ChildSessionID
	close(e.cancelCh)
	if e.handle != nil {
		e.handle.Stop()
	}
	select {
	case <-e.done:
	default:
		close(e.done)
	}
	e.mu.Unlock()

	r.finishSession(ctx, childSessionID, models.SessionCancelled, "", "")
	return true, nil
}

// GetStatus returns the current persisted record for id.
func (r *Registry) GetStatus(id string) (models.SubagentEntry, error) {
	e, err := r.get(id)
	if err != nil {
		return models.SubagentEntry{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record, nil
}

// GetResult returns the stored result/error for a finished task, or
// ErrUnknownTask if id was never registered. Returns ok=false while the
// task is still active.
func (r *Registry) GetResult(id string) (result string, taskErr error, ok bool, err error) {
	e, lookupErr := r.get(id)
	if lookupErr != nil {
		return "", nil, false, lookupErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record.State == models.SubagentActive {
		return "", nil, false, nil
	}
	return e.result, e.err, true, nil
}

// WaitForCompletion blocks, polling at 100ms intervals per spec §4.7, until
// id finishes or timeout elapses.
func (r *Registry) WaitForCompletion(id string, timeout time.Duration) (models.SubagentEntry, error) {
	e, err := r.get(id)
	if err != nil {
		return models.SubagentEntry{}, err
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	select {
	case <-e.done:
	case <-deadline.C:
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record, nil
}

// ListRunning returns every task still in the Active state.
func (r *Registry) ListRunning() []models.SubagentEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.SubagentEntry
	for _, e := range r.tasks {
		e.mu.Lock()
		if e.record.State == models.SubagentActive {
			out = append(out, e.record)
		}
		e.mu.Unlock()
	}
	return out
}

func (r *Registry) get(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &ErrUnknownTask{ID: id}
	}
	return e, nil
}
