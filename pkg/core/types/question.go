package types

// Question is the question currently being asked. It is fetched one at a
// time and never persisted.
type Question struct {
	Text     string `json:"question_text"`
	AudioURL string `json:"audio_url"`
}

// NextQuestionResponse is the wire shape of the next-question endpoint.
// A response with only Message set signals exhaustion.
type NextQuestionResponse struct {
	QuestionText string `json:"question_text,omitempty"`
	AudioURL     string `json:"audio_url,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Exhausted reports whether the response carries no question.
func (r NextQuestionResponse) Exhausted() bool {
	return r.AudioURL == "" && r.QuestionText == ""
}
