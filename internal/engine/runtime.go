package engine

import (
	"fmt"
	"sync"
)

// runtimeRefs reference counts the process-wide inference runtime so that
// several handles can share it. The environment is destroyed with the last
// reference only when this package initialized it; one that was already
// running belongs to someone else and is left alone.
type runtimeRefs struct {
	isInitialized func() bool
	initialize    func() error
	destroy       func() error

	mu    sync.Mutex
	refs  int
	owned bool
}

// acquire takes a reference. setup runs before initialization on the first one.
func (r *runtimeRefs) acquire(setup func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refs == 0 {
		if setup != nil {
			setup()
		}
		r.owned = false
		if !r.isInitialized() {
			if err := r.initialize(); err != nil {
				return fmt.Errorf("onnx runtime environment init failed: %w", err)
			}
			r.owned = true
		}
	}
	r.refs++
	return nil
}

func (r *runtimeRefs) release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refs == 0 {
		return
	}
	r.refs--
	if r.refs == 0 && r.owned {
		r.owned = false
		_ = r.destroy()
	}
}
