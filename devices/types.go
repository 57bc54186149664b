// Package devices catalogs a user's devices, tracks their activity, and
// elects a per-session primary among them (spec.md §4.G).
package devices

import "time"

// Device is one registered client device.
type Device struct {
	ID         string
	UserID     string
	Platform   string
	AppVersion string
	Info       map[string]interface{}

	RegisteredAt time.Time
	LastSeen     time.Time
}

// RegisterInfo is the caller-supplied metadata for a new device.
type RegisterInfo struct {
	Platform   string // defaults to "unknown" if empty
	AppVersion string
	Extra      map[string]interface{}
}

// RegisterResult is Register's outcome.
type RegisterResult struct {
	Success bool
	Device  *Device
}

// ElectResult is ElectPrimary's outcome.
type ElectResult struct {
	Success         bool
	IsPrimary       bool
	PrimaryDeviceID string
	Reason          string // "device_not_active" | "primary_exists"
}

// TransferResult is TransferPrimary's outcome.
type TransferResult struct {
	Success            bool
	NewPrimaryDeviceID string
	Reason             string // "not_current_primary" | "target_device_inactive"
}

// Stats is a snapshot of the device catalog.
type Stats struct {
	TotalDevices          int
	ActiveDevices         int
	InactiveDevices       int
	TotalUsers            int
	PrimaryDevices        int
	AverageDevicesPerUser float64
}

// EventType names a devices-emitted notification.
type EventType string

const (
	EventDeviceRegistered     EventType = "deviceRegistered"
	EventPrimaryElected       EventType = "primaryElected"
	EventPrimaryTransferred   EventType = "primaryTransferred"
	EventDeviceUnregistered   EventType = "deviceUnregistered"
	EventPrimaryDeviceOffline EventType = "primaryDeviceOffline"
	EventPrimaryDeviceTimeout EventType = "primaryDeviceTimeout"
)

// Event is one devices notification.
type Event struct {
	Type      EventType
	UserID    string
	SessionID string
	DeviceID  string
	Data      map[string]interface{}
	Timestamp time.Time
}

// Emitter receives devices notifications.
type Emitter interface {
	Emit(ev Event)
}
