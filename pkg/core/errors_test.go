package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Type:    ErrInvalidState,
		Message: "interview has not started",
	}

	expected := "invalid_state: interview has not started"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestError_WithCode(t *testing.T) {
	err := NewNetworkStatusError("next question", 503, "overloaded")

	expected := "network_failure: next question failed with status 503: overloaded (code: http_503)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewDeviceUnavailableError(t *testing.T) {
	cause := errors.New("permission denied")
	err := NewDeviceUnavailableError("camera", cause)
	if err.Type != ErrDeviceUnavailable {
		t.Errorf("Type = %v, want %v", err.Type, ErrDeviceUnavailable)
	}
	if err.Param != "camera" {
		t.Errorf("Param = %q, want camera", err.Param)
	}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false")
	}
}

func TestNewNoMoreQuestionsError_DefaultMessage(t *testing.T) {
	err := NewNoMoreQuestionsError("")
	if err.Message != "No more questions." {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestIsType_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("start recording: %w", NewAlreadyRecordingError())
	if !IsType(wrapped, ErrAlreadyRecording) {
		t.Fatalf("IsType(wrapped, already_recording) = false")
	}
	if IsType(wrapped, ErrNetwork) {
		t.Fatalf("IsType(wrapped, network_failure) = true")
	}
	if IsType(errors.New("plain"), ErrAlreadyRecording) {
		t.Fatalf("IsType(plain) = true")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", NewNetworkError("submit answer", errors.New("reset")), true},
		{"device", NewDeviceUnavailableError("microphone", nil), false},
		{"no more questions", NewNoMoreQuestionsError(""), false},
		{"plain", errors.New("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
