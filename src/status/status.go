// Package status implements the Shared Status Surface (§4.H): a
// process-wide table of per-connector snapshots guarded by one
// reader-writer lock, read-mostly from the admin surface's perspective.
package status

import (
	"sync"

	"github.com/synchdb-go/synchdb/src/domain"
)

// ErrBusy is returned by PostRequest when the connector's single-slot
// mailbox is already occupied.
type ErrBusy struct{ Name string }

func (e ErrBusy) Error() string {
	return "request slot busy for connector " + e.Name
}

// Table is the process-wide status registry, one entry per connector name.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*domain.SharedStatus
}

func New() *Table {
	return &Table{entries: map[string]*domain.SharedStatus{}}
}

// Acquire claims the slot for name under pid, failing if another live pid
// already holds it (§4.G start-up contract).
func (t *Table) Acquire(name string, flavor domain.SourceFlavor, pid int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[name]
	if ok && entry.PID != 0 && entry.State != domain.StateStopped && entry.State != domain.StateUndef {
		return ErrBusy{Name: name}
	}

	t.entries[name] = &domain.SharedStatus{
		PID:          pid,
		Name:         name,
		SourceFlavor: flavor,
		State:        domain.StateInitializing,
		Stage:        domain.StageUndef,
	}
	return nil
}

// Release clears the slot's pid and sets state to Stopped, idempotent
// regardless of why the task exited (§4.G shut-down / process-exit hook).
func (t *Table) Release(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[name]
	if !ok {
		return
	}
	entry.PID = 0
	entry.State = domain.StateStopped
	entry.Stage = domain.StageUndef
}

// Get returns a copy of the current snapshot (shared lock).
func (t *Table) Get(name string) (domain.SharedStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[name]
	if !ok {
		return domain.SharedStatus{}, false
	}
	return *entry, true
}

// List returns a copy of every known connector's snapshot, for the admin
// surface's status-listing verb.
func (t *Table) List() []domain.SharedStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.SharedStatus, 0, len(t.entries))
	for _, entry := range t.entries {
		out = append(out, *entry)
	}
	return out
}

func (t *Table) mutate(name string, fn func(*domain.SharedStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[name]
	if !ok {
		return
	}
	fn(entry)
}

func (t *Table) SetState(name string, state domain.ConnectorState) {
	t.mutate(name, func(e *domain.SharedStatus) { e.State = state })
}

func (t *Table) SetStage(name string, stage domain.ConnectorStage) {
	t.mutate(name, func(e *domain.SharedStatus) { e.Stage = stage })
}

func (t *Table) SetPID(name string, pid int) {
	t.mutate(name, func(e *domain.SharedStatus) { e.PID = pid })
}

// SetError saves msg verbatim, capped to MaxErrorMsgLen (§4.F).
func (t *Table) SetError(name string, msg string) {
	t.mutate(name, func(e *domain.SharedStatus) { e.LastErrorMsg = domain.TruncateError(msg) })
}

func (t *Table) ClearError(name string) {
	t.mutate(name, func(e *domain.SharedStatus) { e.LastErrorMsg = "" })
}

func (t *Table) SetOffset(name string, offset string) {
	t.mutate(name, func(e *domain.SharedStatus) { e.LastOffsetString = offset })
}

func (t *Table) SetDatabases(name, src, dst string) {
	t.mutate(name, func(e *domain.SharedStatus) {
		e.SourceDatabase = src
		e.DestDatabase = dst
	})
}

func (t *Table) UpdateStats(name string, fn func(*domain.Stats)) {
	t.mutate(name, func(e *domain.SharedStatus) { fn(&e.Stats) })
}

// PostRequest places a new control request into the connector's mailbox,
// refusing if the slot is already occupied by an undrained request.
func (t *Table) PostRequest(name string, req domain.Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[name]
	if !ok {
		return ErrBusy{Name: name}
	}
	if !entry.Request.IsEmpty() {
		return ErrBusy{Name: name}
	}
	entry.Request = req
	return nil
}

// DrainRequest pops and clears the pending request, if any, returning
// (req, true) exactly once per posted request — the supervisor loop calls
// this once per iteration (§4.G step 1, §8's "cleared every iteration").
func (t *Table) DrainRequest(name string) (domain.Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[name]
	if !ok || entry.Request.IsEmpty() {
		return domain.Request{}, false
	}
	req := entry.Request
	entry.Request = domain.Request{}
	return req, true
}
