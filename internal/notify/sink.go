// File: internal/notify/sink.go

// Package notify delivers monitor events to the operator. The Sink
// interface decouples the monitor loop from the delivery channel.
package notify

import (
	"context"
	"time"
)

// SlotDetails describes what was being monitored when slots appeared.
type SlotDetails struct {
	Location        string
	VisaType        string
	VisaSubType     string
	AppointmentFor  string
	NumberOfMembers string
	BookingURL      string
}

// HealthStats is the periodic health report payload.
type HealthStats struct {
	TotalChecks       int
	Uptime            time.Duration
	ConsecutiveErrors int
}

// Sink receives monitor events. Implementations must tolerate being
// called from the monitor's single goroutine at any point in the loop.
type Sink interface {
	// Status carries lifecycle messages (started, stopped).
	Status(ctx context.Context, message string) error
	// Alert carries operator-attention failures.
	Alert(ctx context.Context, message string) error
	// SlotAlert fires when availability is detected. The screenshot may
	// be nil when capture failed.
	SlotAlert(ctx context.Context, details SlotDetails, screenshot []byte) error
	// Health is the periodic heartbeat.
	Health(ctx context.Context, stats HealthStats) error
	// LowBalance warns that the solving service account is running dry.
	LowBalance(ctx context.Context, balance float64) error
}
