package types

import (
	"encoding/json"
	"time"
)

// Answer is a finalized recording awaiting evaluation.
type Answer struct {
	ID          string    `json:"id"`
	Question    string    `json:"question"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Audio       []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
}

// Evaluation is the record returned by the evaluation endpoint. The scoring
// payload is opaque to the client.
type Evaluation struct {
	Transcription string          `json:"transcription"`
	Evaluation    json.RawMessage `json:"evaluation,omitempty"`
}

// ResumeUpload is the acknowledgement of a resume upload.
type ResumeUpload struct {
	TotalQuestions int `json:"total_questions"`
}

// Report is the aggregated evaluation summary consumed by the results view.
type Report struct {
	Questions      []string          `json:"questions" yaml:"questions"`
	Answers        []json.RawMessage `json:"answers" yaml:"-"`
	FaceConfidence float64           `json:"face_confidence" yaml:"face_confidence"`
	FinalScore     string            `json:"final_score" yaml:"final_score"`
	Message        string            `json:"message,omitempty" yaml:"message,omitempty"`
}
