// Package backend is the HTTP client for the interview backend: question
// delivery, answer evaluation, resume upload and the final report.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/vango-go/vai-interview/internal/redact"
	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/core/types"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 30 * time.Second

	pathPlayQuestion    = "/play-question"
	pathSubmitAnswer    = "/submit-answer"
	pathUploadResume    = "/upload-resume"
	pathInterviewReport = "/interview-report"

	maxErrorBody = 1 << 20
)

// Client talks to the interview backend.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds each call that has no context deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil || strings.TrimSpace(base.Scheme) == "" || strings.TrimSpace(base.Host) == "" {
		return nil, core.NewInvalidRequestErrorWithParam("invalid backend base URL", "base_url")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, core.NewInvalidRequestErrorWithParam("backend base URL must be http or https", "base_url")
	}
	base.RawQuery = ""
	base.Fragment = ""

	c := &Client{
		baseURL:    base,
		httpClient: newDefaultHTTPClient(),
		logger:     slog.Default(),
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// NextQuestion fetches the next question. The backend advances its own
// cursor on every call. Exhaustion is reported as a no_more_questions error
// carrying the backend's message.
func (c *Client) NextQuestion(ctx context.Context) (*types.Question, error) {
	const op = "fetch question"
	var resp types.NextQuestionResponse
	if err := c.doJSON(ctx, op, http.MethodGet, pathPlayQuestion, nil, "", &resp); err != nil {
		return nil, err
	}
	if resp.Exhausted() {
		return nil, core.NewNoMoreQuestionsError(strings.TrimSpace(resp.Message))
	}
	return &types.Question{Text: resp.QuestionText, AudioURL: resp.AudioURL}, nil
}

// SubmitAnswer uploads a recorded answer for evaluation.
func (c *Client) SubmitAnswer(ctx context.Context, answer types.Answer) (*types.Evaluation, error) {
	const op = "submit answer"
	if len(answer.Audio) == 0 {
		return nil, core.NewInvalidRequestErrorWithParam("answer audio must not be empty", "file")
	}
	filename := answer.Filename
	if filename == "" {
		filename = "answer.webm"
	}
	contentType := answer.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var fields map[string]string
	if answer.Question != "" {
		fields = map[string]string{"question": answer.Question}
	}
	body, formType, err := multipartBody("file", filename, contentType, bytes.NewReader(answer.Audio), fields)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to build answer upload")
	}

	var eval types.Evaluation
	if err := c.doJSON(ctx, op, http.MethodPost, pathSubmitAnswer, body, formType, &eval); err != nil {
		return nil, err
	}
	return &eval, nil
}

// UploadResume uploads a resume with the target job description. The
// response carries the number of questions the backend generated.
func (c *Client) UploadResume(ctx context.Context, filename string, resume io.Reader, jobDescription string) (*types.ResumeUpload, error) {
	const op = "upload resume"
	if resume == nil {
		return nil, core.NewInvalidRequestErrorWithParam("resume must not be nil", "file")
	}
	if strings.TrimSpace(jobDescription) == "" {
		return nil, core.NewInvalidRequestErrorWithParam("job description must not be empty", "job_description")
	}
	name := filepath.Base(filename)
	contentType := "application/octet-stream"
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		contentType = "application/pdf"
	case ".docx":
		contentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".doc":
		contentType = "application/msword"
	}
	body, formType, err := multipartBody("file", name, contentType, resume, map[string]string{"job_description": jobDescription})
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to build resume upload")
	}

	var out types.ResumeUpload
	if err := c.doJSON(ctx, op, http.MethodPost, pathUploadResume, body, formType, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InterviewReport fetches the aggregated evaluation report.
func (c *Client) InterviewReport(ctx context.Context) (*types.Report, error) {
	const op = "fetch report"
	var report types.Report
	if err := c.doJSON(ctx, op, http.MethodGet, pathInterviewReport, nil, "", &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	cleanPath := "/" + strings.TrimLeft(path, "/")
	basePath := strings.TrimSuffix(u.Path, "/")
	if basePath == "" {
		u.Path = cleanPath
	} else {
		u.Path = basePath + cleanPath
	}
	u.RawPath = ""
	return u.String()
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) error {
	ctx, cancel := c.withDefaultTimeout(ctx)
	defer cancel()

	endpoint := c.endpoint(path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return core.NewNetworkError(op, &TransportError{Op: method, URL: endpoint, Err: err})
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed", "op", op, "method", method, "url", redact.URL(endpoint), "error", err)
		return core.NewNetworkError(op, &TransportError{Op: method, URL: endpoint, Err: err})
	}
	defer resp.Body.Close()
	c.logger.Debug("backend request", "op", op, "method", method, "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeErrorResponse(resp, op)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.NewNetworkError(op, &TransportError{Op: method, URL: endpoint, Err: err})
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return core.NewNetworkError(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline || c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// decodeErrorResponse maps a non-2xx response to a network_failure error.
// FastAPI reports failures as {"detail": "..."}; detail may also be a list
// of validation errors.
func decodeErrorResponse(resp *http.Response, op string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var env struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	detail := ""
	if err := json.Unmarshal(body, &env); err == nil {
		var s string
		switch {
		case len(env.Detail) > 0 && json.Unmarshal(env.Detail, &s) == nil:
			detail = s
		case len(env.Detail) > 0:
			detail = string(env.Detail)
		default:
			detail = env.Message
		}
	}
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	return core.NewNetworkStatusError(op, resp.StatusCode, strings.TrimSpace(detail))
}

func multipartBody(field, filename, contentType string, content io.Reader, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, "", err
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
