package session

import (
	"time"

	"github.com/vango-go/vai-interview/pkg/core/types"
)

// Snapshot is a read-only view of a session for rendering.
type Snapshot struct {
	Phase    types.Phase
	State    types.SessionState
	Question *types.Question
	Reason   types.FinalizeReason
	TimedOut bool

	CameraOn  bool
	Recording bool

	// Telemetry is the channel status, empty when telemetry is disabled.
	Telemetry         string
	FaceConfidence    float64
	HasFaceConfidence bool
}

// AlertKind classifies user-visible alerts.
type AlertKind string

const (
	AlertDevice            AlertKind = "device_unavailable"
	AlertNetwork           AlertKind = "network_failure"
	AlertSubmission        AlertKind = "submission_failed"
	AlertNoMoreQuestions   AlertKind = "no_more_questions"
	AlertTimeExpired       AlertKind = "time_expired"
	AlertTelemetryDegraded AlertKind = "telemetry_degraded"
)

// Alert is a message the candidate should see.
type Alert struct {
	Kind    AlertKind
	Message string
	Err     error
	At      time.Time
}
