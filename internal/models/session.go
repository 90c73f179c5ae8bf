package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a capture session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateStarting
	StateRunning
	StateStopping
)

var stateNames = [...]string{"idle", "starting", "running", "stopping"}

func (s SessionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SessionState) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = SessionState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// CaptureSession is the per-band capture state. The zero value is an
// idle session. Owned exclusively by the session manager and mutated
// only under its state lock.
type CaptureSession struct {
	State            SessionState
	SessionID        uuid.UUID
	StartedAt        *time.Time
	EstimatedPackets int64
}

// BandStatus is the externally visible snapshot of one band's session.
type BandStatus struct {
	Band             Band         `json:"band"`
	State            SessionState `json:"state"`
	Running          bool         `json:"running"`
	SessionID        string       `json:"sessionId,omitempty"`
	StartedAt        *time.Time   `json:"startTime,omitempty"`
	Duration         string       `json:"duration,omitempty"`
	EstimatedPackets int64        `json:"packets"`
}

// DetectionStatus records the outcome of the last successful interface
// detection. It is written once per successful detection and read by
// status reporting.
type DetectionStatus struct {
	Detected      bool              `json:"detected"`
	LastDetection *time.Time        `json:"lastDetection,omitempty"`
	Method        string            `json:"detectionMethod,omitempty"`
	Mapping       map[string]string `json:"detectedMapping,omitempty"`
}

// TimeSyncStatus records the last clock synchronization against the
// device.
type TimeSyncStatus struct {
	LastSync      *time.Time `json:"lastSync,omitempty"`
	OffsetSeconds *float64   `json:"offsetSeconds,omitempty"`
	Success       bool       `json:"success"`
}

// TimeInfo reports both clocks for display.
type TimeInfo struct {
	LocalTime     string     `json:"localTime"`
	DeviceTime    string     `json:"deviceTime"`
	OffsetSeconds *float64   `json:"offsetSeconds,omitempty"`
	Synced        bool       `json:"synced"`
	LastSync      *time.Time `json:"lastSync,omitempty"`
}

// FileSplitConfig controls splitting of capture output into
// size-bounded files on the remote device.
type FileSplitConfig struct {
	Enabled bool `json:"enabled"`
	SizeMB  int  `json:"sizeMb"`
}
