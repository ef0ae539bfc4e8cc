// internal/events/types.go
package events

import (
	"time"

	"github.com/rovshanmuradov/launch-guard/internal/domain"
)

// EventType represents the type of event.
type EventType string

const (
	MonitorStarted   EventType = "monitor.started"
	MonitorTriggered EventType = "monitor.triggered"
	MonitorExpired   EventType = "monitor.expired"

	MitigationCompleted EventType = "mitigation.completed"
	MitigationFailed    EventType = "mitigation.failed"

	LaunchSubmitted EventType = "launch.submitted"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

func (e BaseEvent) Type() EventType {
	return e.EventType
}

func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

func newBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now().UTC()}
}

// MonitorStartedEvent is emitted once a monitor record is persisted and its
// poll loop runs.
type MonitorStartedEvent struct {
	BaseEvent
	TokenMint             string
	LaunchSlot            uint64
	EffectiveWindowBlocks int
	ExpiresAt             time.Time
	Resumed               bool
}

func NewMonitorStarted(m *domain.Monitor, resumed bool) MonitorStartedEvent {
	return MonitorStartedEvent{
		BaseEvent:             newBase(MonitorStarted),
		TokenMint:             m.TokenMint,
		LaunchSlot:            m.LaunchSlot,
		EffectiveWindowBlocks: m.EffectiveWindowBlocks,
		ExpiresAt:             m.ExpiresAt,
		Resumed:               resumed,
	}
}

// MonitorTriggeredEvent is emitted when a trade crossed a threshold.
type MonitorTriggeredEvent struct {
	BaseEvent
	TokenMint string
	Trade     domain.TradeEvent
}

func NewMonitorTriggered(tokenMint string, trade domain.TradeEvent) MonitorTriggeredEvent {
	return MonitorTriggeredEvent{BaseEvent: newBase(MonitorTriggered), TokenMint: tokenMint, Trade: trade}
}

// MonitorExpiredEvent is emitted when a monitor ends without detection.
type MonitorExpiredEvent struct {
	BaseEvent
	TokenMint string
	Reason    domain.ExpiredReason
}

func NewMonitorExpired(tokenMint string, reason domain.ExpiredReason) MonitorExpiredEvent {
	return MonitorExpiredEvent{BaseEvent: newBase(MonitorExpired), TokenMint: tokenMint, Reason: reason}
}

// MitigationEvent reports the outcome of a mitigation sell.
type MitigationEvent struct {
	BaseEvent
	TokenMint string
	Wallets   int
	Landed    int
	TriggerTx string
	Error     string
	Duration  time.Duration
}

func NewMitigation(success bool, tokenMint string) MitigationEvent {
	t := MitigationFailed
	if success {
		t = MitigationCompleted
	}
	return MitigationEvent{BaseEvent: newBase(t), TokenMint: tokenMint}
}

// LaunchSubmittedEvent is emitted after a launch bundle was submitted.
type LaunchSubmittedEvent struct {
	BaseEvent
	TokenMint    string
	SubmissionID string
	Method       string
	Success      bool
}

func NewLaunchSubmitted(tokenMint, submissionID, method string, success bool) LaunchSubmittedEvent {
	return LaunchSubmittedEvent{
		BaseEvent:    newBase(LaunchSubmitted),
		TokenMint:    tokenMint,
		SubmissionID: submissionID,
		Method:       method,
		Success:      success,
	}
}
