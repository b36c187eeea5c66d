package session

import (
	"context"
	"errors"
	"sync"
)

var ErrHandleNil = errors.New("generation handle is nil")

// GenerationHandle represents one in-flight generation. It is cancelable and
// waitable; the underlying pipeline is always driven by context
// cancellation.
type GenerationHandle struct {
	GenerationID string

	done chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	outcome Outcome
}

func newGenerationHandle(generationID string, cancel context.CancelFunc) *GenerationHandle {
	return &GenerationHandle{
		GenerationID: generationID,
		done:         make(chan struct{}),
		cancel:       cancel,
	}
}

func (h *GenerationHandle) setOutcome(o Outcome) {
	h.mu.Lock()
	h.outcome = o
	// release the generation context so the parent drops its reference
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = nil
	close(h.done)
	h.mu.Unlock()
}

// Cancel signals the generation's cancellation token. Safe to call multiple
// times and after completion.
func (h *GenerationHandle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the generation reaches a terminal state and returns its
// outcome.
func (h *GenerationHandle) Wait() Outcome {
	if h == nil {
		return Outcome{Status: StatusFailed, Kind: ErrorKindInternal, Err: ErrHandleNil}
	}
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome
}

// IsRunning reports whether the generation is still non-terminal.
func (h *GenerationHandle) IsRunning() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
