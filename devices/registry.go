package devices

import (
	"sync"
	"time"

	"github.com/dock108/aicli-gateway/config"
)

// Registry is the device catalog and per-session primary map.
type Registry struct {
	cfg     *config.Config
	clock   config.Clock
	emitter Emitter

	mu      sync.RWMutex
	devices map[string]*Device
	primary map[string]string // sessionId -> deviceId

	monitorMu   sync.Mutex
	monitorStop func()
	monitorDone chan struct{}
}

// NewRegistry constructs a device Registry. emitter may be nil.
func NewRegistry(cfg *config.Config, emitter Emitter) *Registry {
	return &Registry{
		cfg:     cfg,
		clock:   config.ClockFor(cfg),
		emitter: emitter,
		devices: make(map[string]*Device),
		primary: make(map[string]string),
	}
}

// Register adds or replaces deviceId in the catalog for userId.
func (r *Registry) Register(userID, deviceID string, info RegisterInfo) RegisterResult {
	platform := info.Platform
	if platform == "" {
		platform = "unknown"
	}

	now := r.clock.Now()
	d := &Device{
		ID:           deviceID,
		UserID:       userID,
		Platform:     platform,
		AppVersion:   info.AppVersion,
		Info:         info.Extra,
		RegisteredAt: now,
		LastSeen:     now,
	}

	r.mu.Lock()
	r.devices[deviceID] = d
	r.mu.Unlock()

	r.emit(Event{Type: EventDeviceRegistered, UserID: userID, DeviceID: deviceID, Timestamp: now})
	return RegisterResult{Success: true, Device: d}
}

// UpdateLastSeen refreshes deviceId's activity timestamp; a no-op if
// deviceId is unknown.
func (r *Registry) UpdateLastSeen(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[deviceID]; ok {
		d.LastSeen = r.clock.Now()
	}
}

// IsActive reports whether deviceId has been seen within the configured
// device timeout.
func (r *Registry) IsActive(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return false
	}
	return r.clock.Now().Sub(d.LastSeen) <= r.cfg.DeviceTimeout
}

// GetActiveDevices returns userId's devices seen within the timeout.
func (r *Registry) GetActiveDevices(userID string) []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.clock.Now()
	var out []*Device
	for _, d := range r.devices {
		if d.UserID == userID && now.Sub(d.LastSeen) <= r.cfg.DeviceTimeout {
			out = append(out, d)
		}
	}
	return out
}

// ElectPrimary attempts to make deviceId the primary for sessionId. The
// entire decision is made under one held lock so that, under a burst of
// concurrent elections for the same session, exactly one succeeds in
// setting a new primary and the rest observe it as already-decided
// (spec.md §4.G concurrency invariant).
func (r *Registry) ElectPrimary(userID, sessionID, deviceID string) ElectResult {
	r.mu.Lock()

	d, ok := r.devices[deviceID]
	if !ok || r.clock.Now().Sub(d.LastSeen) > r.cfg.DeviceTimeout {
		r.mu.Unlock()
		return ElectResult{Success: false, Reason: "device_not_active"}
	}

	current, hasPrimary := r.primary[sessionID]
	if hasPrimary && current == deviceID {
		r.mu.Unlock()
		return ElectResult{Success: true, IsPrimary: true, PrimaryDeviceID: current}
	}
	if hasPrimary {
		if cd, ok := r.devices[current]; ok && r.clock.Now().Sub(cd.LastSeen) <= r.cfg.DeviceTimeout {
			r.mu.Unlock()
			return ElectResult{Success: false, Reason: "primary_exists", PrimaryDeviceID: current}
		}
	}

	r.primary[sessionID] = deviceID
	r.mu.Unlock()

	r.emit(Event{Type: EventPrimaryElected, UserID: userID, SessionID: sessionID, DeviceID: deviceID, Timestamp: r.clock.Now()})
	return ElectResult{Success: true, IsPrimary: true, PrimaryDeviceID: deviceID}
}

// TransferPrimary moves sessionId's primary from fromDeviceId to
// toDeviceId.
func (r *Registry) TransferPrimary(sessionID, fromDeviceID, toDeviceID string) TransferResult {
	r.mu.Lock()

	current, hasPrimary := r.primary[sessionID]
	if !hasPrimary || current != fromDeviceID {
		r.mu.Unlock()
		return TransferResult{Success: false, Reason: "not_current_primary"}
	}

	toDevice, ok := r.devices[toDeviceID]
	if !ok || r.clock.Now().Sub(toDevice.LastSeen) > r.cfg.DeviceTimeout {
		r.mu.Unlock()
		return TransferResult{Success: false, Reason: "target_device_inactive"}
	}

	r.primary[sessionID] = toDeviceID
	r.mu.Unlock()

	r.emit(Event{
		Type: EventPrimaryTransferred, SessionID: sessionID, DeviceID: toDeviceID,
		Data:      map[string]interface{}{"fromDeviceId": fromDeviceID, "toDeviceId": toDeviceID},
		Timestamp: r.clock.Now(),
	})
	return TransferResult{Success: true, NewPrimaryDeviceID: toDeviceID}
}

// Unregister removes deviceId from the catalog. Every session where it was
// primary loses its primary mapping and gets a primaryDeviceOffline event.
func (r *Registry) Unregister(deviceID string) {
	r.mu.Lock()
	d, ok := r.devices[deviceID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.devices, deviceID)

	var offlineSessions []string
	for sessionID, primaryID := range r.primary {
		if primaryID == deviceID {
			delete(r.primary, sessionID)
			offlineSessions = append(offlineSessions, sessionID)
		}
	}
	r.mu.Unlock()

	now := r.clock.Now()
	for _, sessionID := range offlineSessions {
		r.emit(Event{Type: EventPrimaryDeviceOffline, SessionID: sessionID, DeviceID: deviceID, Timestamp: now})
	}
	r.emit(Event{Type: EventDeviceUnregistered, UserID: d.UserID, DeviceID: deviceID, Timestamp: now})
}

// GetPrimaryDevice returns sessionId's current primary device ID, if any.
func (r *Registry) GetPrimaryDevice(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.primary[sessionID]
	return id, ok
}

// GetStats summarizes the device catalog.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.clock.Now()
	users := make(map[string]struct{})
	active := 0
	for _, d := range r.devices {
		users[d.UserID] = struct{}{}
		if now.Sub(d.LastSeen) <= r.cfg.DeviceTimeout {
			active++
		}
	}

	total := len(r.devices)
	var avg float64
	if len(users) > 0 {
		avg = float64(total) / float64(len(users))
	}

	return Stats{
		TotalDevices:          total,
		ActiveDevices:         active,
		InactiveDevices:       total - active,
		TotalUsers:            len(users),
		PrimaryDevices:        len(r.primary),
		AverageDevicesPerUser: avg,
	}
}

// StartTimeoutMonitor begins the periodic sweep that drops a primary
// mapping once its device goes inactive. Idempotent.
func (r *Registry) StartTimeoutMonitor() {
	r.monitorMu.Lock()
	defer r.monitorMu.Unlock()
	if r.monitorStop != nil {
		return
	}

	ticks, stop := r.clock.NewTicker(r.cfg.HeartbeatInterval)
	done := make(chan struct{})
	r.monitorStop = stop
	r.monitorDone = done

	go r.monitorLoop(ticks, done)
}

// StopTimeoutMonitor halts the periodic sweep.
func (r *Registry) StopTimeoutMonitor() {
	r.monitorMu.Lock()
	defer r.monitorMu.Unlock()
	if r.monitorStop == nil {
		return
	}
	r.monitorStop()
	close(r.monitorDone)
	r.monitorStop = nil
	r.monitorDone = nil
}

func (r *Registry) monitorLoop(ticks <-chan time.Time, done <-chan struct{}) {
	for {
		select {
		case <-ticks:
			r.sweepTimeouts()
		case <-done:
			return
		}
	}
}

func (r *Registry) sweepTimeouts() {
	type pair struct{ sessionID, deviceID string }

	r.mu.Lock()
	now := r.clock.Now()
	var timedOut []pair
	for sessionID, deviceID := range r.primary {
		d, ok := r.devices[deviceID]
		if !ok || now.Sub(d.LastSeen) > r.cfg.DeviceTimeout {
			timedOut = append(timedOut, pair{sessionID, deviceID})
		}
	}
	for _, p := range timedOut {
		delete(r.primary, p.sessionID)
	}
	r.mu.Unlock()

	for _, p := range timedOut {
		r.emit(Event{Type: EventPrimaryDeviceTimeout, SessionID: p.sessionID, DeviceID: p.deviceID, Timestamp: now})
	}
}

func (r *Registry) emit(ev Event) {
	if r.emitter != nil {
		r.emitter.Emit(ev)
	}
}
