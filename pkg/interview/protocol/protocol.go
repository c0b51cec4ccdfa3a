// Package protocol defines the telemetry wire messages exchanged with the
// face-confidence scorer.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// FrameDataURLPrefix prefixes every encoded still frame. The scorer splits
// the payload on the first comma.
const FrameDataURLPrefix = "data:image/jpeg;base64,"

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badPayload(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_payload", Message: message, Param: param}
}

// ClientFrame is the outbound still-image frame.
type ClientFrame struct {
	Image string `json:"image"`
}

// NewClientFrame wraps JPEG bytes into a data URL frame.
func NewClientFrame(jpeg []byte) ClientFrame {
	return ClientFrame{Image: FrameDataURLPrefix + base64.StdEncoding.EncodeToString(jpeg)}
}

// ServerScore is the inbound confidence score.
type ServerScore struct {
	FaceConfidence float64
}

type serverScoreWire struct {
	FaceConfidence      *float64 `json:"face_confidence"`
	FaceConfidenceCamel *float64 `json:"faceConfidence"`
}

// DecodeServerMessage decodes a scorer message. Messages that are not JSON
// objects or that lack a finite numeric confidence field yield a
// *DecodeError; callers discard them.
func DecodeServerMessage(data []byte) (ServerScore, error) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		return ServerScore{}, badPayload("telemetry message is not a json object", "")
	}
	var wire serverScoreWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return ServerScore{}, badPayload("invalid telemetry json", "")
	}
	value := wire.FaceConfidence
	if value == nil {
		value = wire.FaceConfidenceCamel
	}
	if value == nil {
		return ServerScore{}, badPayload("missing confidence field", "face_confidence")
	}
	if math.IsNaN(*value) || math.IsInf(*value, 0) {
		return ServerScore{}, badPayload("confidence is not finite", "face_confidence")
	}
	return ServerScore{FaceConfidence: *value}, nil
}
