package sessions

import (
	"context"
	"sync"

	"github.com/ggoodman/apppage-go/rpc"
)

// Handle is a session registered with an rpc.Transport.
//
// A handle obtained from Registry.Resolve stays registered until it has been
// released by every caller, even if the registry evicts it in the meantime.
type Handle struct {
	sess      rpc.Session
	transport rpc.Transport
	isDefault bool

	// onRetire unregisters the handle. Nil for handles not owned by a Registry.
	onRetire func(*Handle)

	mu      sync.Mutex
	refs    int
	retired bool
}

func (h *Handle) ID() string    { return h.sess.ID }
func (h *Handle) Realm() string { return h.sess.Realm }
func (h *Handle) Role() string  { return h.sess.Role }

// Default reports whether h is the registry's shared anonymous handle.
func (h *Handle) Default() bool { return h.isDefault }

// Session returns the identity the handle was registered with.
func (h *Handle) Session() rpc.Session { return h.sess }

// Call starts procedure through the handle's transport. The call is cancelled
// when ctx is.
func (h *Handle) Call(ctx context.Context, procedure string, kwargs map[string]any) *rpc.Future {
	return rpc.Invoke(ctx, h.transport, h.sess, procedure, kwargs)
}

// Release ends one use of h started by Registry.Resolve. Each successful
// Resolve must be paired with exactly one Release.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.refs > 0 {
		h.refs--
	}
	fire := h.retired && h.refs == 0
	h.mu.Unlock()
	if fire {
		h.unregister()
	}
}

// acquire starts a use of h. It fails once h has been retired.
func (h *Handle) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.retired {
		return false
	}
	h.refs++
	return true
}

// retire marks h as no longer handed out. It is unregistered as soon as no
// caller holds it.
func (h *Handle) retire() {
	h.mu.Lock()
	if h.retired {
		h.mu.Unlock()
		return
	}
	h.retired = true
	fire := h.refs == 0
	h.mu.Unlock()
	if fire {
		h.unregister()
	}
}

// inUse returns the number of callers holding h.
func (h *Handle) inUse() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs
}

func (h *Handle) unregister() {
	if h.onRetire != nil {
		h.onRetire(h)
	}
}
