package types

// Phase is the controller's position in the interview lifecycle.
type Phase int

const (
	// PhaseNotStarted is the initial phase before any device is acquired.
	PhaseNotStarted Phase = iota
	// PhaseCameraReady is when the camera is on and the interview can start.
	PhaseCameraReady
	// PhaseActive is when questions are being served and the timer runs.
	PhaseActive
	// PhaseFinalizing is when resources are being released and results prepared.
	PhaseFinalizing
	// PhaseTerminated is when the session has been handed off to results.
	PhaseTerminated
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "NOT_STARTED"
	case PhaseCameraReady:
		return "CAMERA_READY"
	case PhaseActive:
		return "ACTIVE"
	case PhaseFinalizing:
		return "FINALIZING"
	case PhaseTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// FinalizeReason records why an interview left the Active phase.
type FinalizeReason string

const (
	FinalizeEvaluate FinalizeReason = "evaluate"
	FinalizeEnded    FinalizeReason = "ended"
	FinalizeTimeout  FinalizeReason = "timeout"
	FinalizeComplete FinalizeReason = "complete"
)

// SessionState is the durable interview progress. It is persisted on every
// mutation so a session survives a process restart.
type SessionState struct {
	Started               bool `json:"started"`
	TimerSecondsRemaining int  `json:"timer_seconds_remaining"`
	QuestionIndex         int  `json:"question_index"`
	AttemptedCount        int  `json:"attempted_count"`
	TotalQuestions        int  `json:"total_questions"`
}

// Normalize clamps the state into its invariants:
// 0 <= QuestionIndex < TotalQuestions, 0 <= AttemptedCount <= TotalQuestions
// and TimerSecondsRemaining >= 0.
func (s SessionState) Normalize() SessionState {
	if s.TotalQuestions < 1 {
		s.TotalQuestions = 1
	}
	if s.TimerSecondsRemaining < 0 {
		s.TimerSecondsRemaining = 0
	}
	if s.QuestionIndex < 0 {
		s.QuestionIndex = 0
	}
	if s.QuestionIndex >= s.TotalQuestions {
		s.QuestionIndex = s.TotalQuestions - 1
	}
	if s.AttemptedCount < 0 {
		s.AttemptedCount = 0
	}
	if s.AttemptedCount > s.TotalQuestions {
		s.AttemptedCount = s.TotalQuestions
	}
	return s
}

// HasNext reports whether another question exists after the current one.
func (s SessionState) HasNext() bool {
	return s.QuestionIndex+1 < s.TotalQuestions
}
