package workspace

import (
	"sync"

	"github.com/google/uuid"
)

// Status is what the front-end shows on its single status line.
type Status struct {
	Busy    bool
	Flow    string
	Message string
	Failed  bool
}

// Reporter tracks the active flow. Only the most recently started flow may
// lower the busy flag or write the status line; a flow that has been
// superseded finishes silently.
type Reporter struct {
	mu     sync.Mutex
	active uuid.UUID
	status Status
}

func NewReporter() *Reporter {
	return &Reporter{}
}

// Begin clears the status line, raises busy and makes flow the active
// operation. The returned id must be passed to Finish.
func (r *Reporter) Begin(flow string) uuid.UUID {
	id := uuid.New()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = id
	r.status = Status{Busy: true, Flow: flow}
	return id
}

// Finish records the outcome of op. It reports false, leaving the status
// untouched, when op is no longer the active operation.
func (r *Reporter) Finish(op uuid.UUID, message string, failed bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if op != r.active {
		return false
	}
	r.active = uuid.Nil
	r.status = Status{Flow: r.status.Flow, Message: message, Failed: failed}
	return true
}

func (r *Reporter) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Reporter) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.Busy
}
