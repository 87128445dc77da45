// Package events defines the notifications published by the meter pipeline.
package events

import (
	"github.com/aionmeter/aionmeter/internal/combat"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Combat events
	EventDamageReceived EventType = "damage_received"
	EventCombatReset    EventType = "combat_reset"
	EventPlayerRenamed  EventType = "player_renamed"

	// Capture events
	EventCaptureStarted EventType = "capture_started"
	EventCaptureStopped EventType = "capture_stopped"
	EventPortDetected   EventType = "port_detected"

	// System events
	EventShutdown    EventType = "shutdown"
	EventHealthAlert EventType = "health_alert"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// DamagePayload carries one attributed hit.
type DamagePayload struct {
	Damage combat.DamageEvent `json:"damage"`
}

// CombatResetPayload is emitted when a combat window ends.
type CombatResetPayload struct {
	Final  combat.Summary     `json:"final"`
	Reason combat.ResetReason `json:"reason"`
}

// PlayerRenamedPayload is emitted when a nickname is decoded for a player.
type PlayerRenamedPayload struct {
	EntityID int    `json:"entity_id"`
	Name     string `json:"name"`
}

// CapturePayload describes a capture source state change.
type CapturePayload struct {
	Source string `json:"source"`
	Error  string `json:"error,omitempty"`
}

// PortDetectedPayload is emitted once the game port is locked.
type PortDetectedPayload struct {
	Port uint16 `json:"port"`
}

// ShutdownPayload is emitted before the process exits.
type ShutdownPayload struct {
	Reason string `json:"reason"`
}

// HealthAlertPayload is emitted when a health check changes level.
type HealthAlertPayload struct {
	Check   string `json:"check"`
	Level   string `json:"level"`
	Message string `json:"message"`
}
