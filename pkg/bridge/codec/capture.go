package codec

import (
	"sync"

	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge"
)

// DeviceRegistry enforces exclusive ownership of capture devices. A session
// acquires a device for its lifetime; a second acquire of the same device
// fails instead of silently sharing the stream.
type DeviceRegistry struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{held: make(map[string]struct{})}
}

// Acquire claims the named device and returns its release func. Release is
// idempotent.
func (r *DeviceRegistry) Acquire(device string) (release func(), err error) {
	if device == "" {
		return nil, bridge.NewCaptureDeviceError("capture device name is empty", device)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.held[device]; taken {
		return nil, bridge.NewCaptureDeviceError("capture device is already in use", device)
	}
	r.held[device] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.held, device)
			r.mu.Unlock()
		})
	}, nil
}

// Held reports whether the named device is currently owned.
func (r *DeviceRegistry) Held(device string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, taken := r.held[device]
	return taken
}
