package protocol

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeServerMessage_Score(t *testing.T) {
	score, err := DecodeServerMessage([]byte(`{"face_confidence": 87.5}`))
	if err != nil {
		t.Fatalf("DecodeServerMessage() error = %v", err)
	}
	if score.FaceConfidence != 87.5 {
		t.Fatalf("FaceConfidence=%v, want 87.5", score.FaceConfidence)
	}
}

func TestDecodeServerMessage_CamelCaseAlias(t *testing.T) {
	score, err := DecodeServerMessage([]byte(`{"faceConfidence": 12}`))
	if err != nil {
		t.Fatalf("DecodeServerMessage() error = %v", err)
	}
	if score.FaceConfidence != 12 {
		t.Fatalf("FaceConfidence=%v, want 12", score.FaceConfidence)
	}
}

func TestDecodeServerMessage_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		param string
	}{
		{name: "not json", raw: `hello`},
		{name: "array", raw: `[1,2]`},
		{name: "missing field", raw: `{"status":"ok"}`, param: "face_confidence"},
		{name: "string value", raw: `{"face_confidence":"high"}`},
		{name: "null value", raw: `{"face_confidence":null}`, param: "face_confidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeServerMessage([]byte(tt.raw))
			if err == nil {
				t.Fatalf("expected error for %q", tt.raw)
			}
			de, ok := err.(*DecodeError)
			if !ok {
				t.Fatalf("error type=%T, want *DecodeError", err)
			}
			if de.Param != tt.param {
				t.Fatalf("param=%q, want %q", de.Param, tt.param)
			}
		})
	}
}

func TestNewClientFrame_DataURL(t *testing.T) {
	frame := NewClientFrame([]byte{0xff, 0xd8, 0xff})
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"image":"data:image/jpeg;base64,`) {
		t.Fatalf("frame=%s", raw)
	}
	_, payload, ok := strings.Cut(frame.Image, ",")
	if !ok {
		t.Fatalf("frame has no comma separator")
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(decoded) != 3 || decoded[0] != 0xff {
		t.Fatalf("decoded=%v", decoded)
	}
}
