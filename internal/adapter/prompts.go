package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webssh2/webssh2/internal/gwerrors"
)

const (
	defaultPromptTimeout = 300 * time.Second
	maxPromptTimeout     = 600 * time.Second
	maxPendingPrompts    = 10
)

// promptAnswer is what the client sent back for one prompt id.
type promptAnswer struct {
	Action string
	Inputs []string
}

// promptRegistry tracks prompts awaiting a client response. A socket may
// hold at most maxPendingPrompts outstanding entries.
type promptRegistry struct {
	mu      sync.Mutex
	pending map[string]chan promptAnswer
}

func newPromptRegistry() *promptRegistry {
	return &promptRegistry{pending: make(map[string]chan promptAnswer)}
}

// register allocates a prompt id and its answer channel.
func (r *promptRegistry) register() (string, <-chan promptAnswer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) >= maxPendingPrompts {
		return "", nil, gwerrors.New(gwerrors.KindValidation, "too_many_prompts",
			"too many pending prompts")
	}
	id := uuid.NewString()
	ch := make(chan promptAnswer, 1)
	r.pending[id] = ch
	return id, ch, nil
}

// resolve delivers an answer. Unknown ids are ignored.
func (r *promptRegistry) resolve(id string, ans promptAnswer) bool {
	r.mu.Lock()
	ch, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- ans
	return true
}

// drop removes a prompt without answering it (timeout, socket close).
func (r *promptRegistry) drop(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// await blocks until the prompt is answered, the timeout elapses, or ctx
// is cancelled. Timeouts are clamped to the absolute maximum.
func await(ctx context.Context, r *promptRegistry, id string, ch <-chan promptAnswer, timeout time.Duration) (promptAnswer, error) {
	if timeout <= 0 {
		timeout = defaultPromptTimeout
	}
	if timeout > maxPromptTimeout {
		timeout = maxPromptTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ans := <-ch:
		return ans, nil
	case <-timer.C:
		r.drop(id)
		return promptAnswer{}, gwerrors.New(gwerrors.KindTimeout, "prompt_timeout",
			"prompt timed out")
	case <-ctx.Done():
		r.drop(id)
		return promptAnswer{}, ctx.Err()
	}
}
