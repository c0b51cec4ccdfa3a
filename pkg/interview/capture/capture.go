// Package capture records spoken answers and delivers them for evaluation
// through a durable outbox.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/core/types"
	"github.com/vango-go/vai-interview/pkg/interview/media"
	"github.com/vango-go/vai-interview/pkg/interview/store"
)

const (
	DefaultDrainTimeout = 10 * time.Second
	resultBufferSize    = 32
	encoderStopTimeout  = 5 * time.Second
)

// Microphone acquires and releases the audio device. *media.Manager
// satisfies it.
type Microphone interface {
	AcquireAudio(ctx context.Context) (media.AudioStream, error)
	Release(s media.Stream)
}

// Submitter delivers an answer to the evaluation endpoint.
type Submitter interface {
	SubmitAnswer(ctx context.Context, answer types.Answer) (*types.Evaluation, error)
}

// Result is the outcome of one delivery attempt.
type Result struct {
	Answer     types.Answer
	Evaluation *types.Evaluation
	Err        error
}

// Config tunes a Pipeline.
type Config struct {
	// Preferences is the ordered codec fallback list; empty uses
	// media.DefaultPreferences.
	Preferences  []media.Codec
	DrainTimeout time.Duration
}

// Pipeline is the answer capture state machine: Idle -> Recording -> Idle.
// At most one recording is live at a time.
type Pipeline struct {
	mic       Microphone
	submitter Submitter
	outbox    store.Outbox
	logger    *slog.Logger
	prefs     []media.Codec
	drain     time.Duration

	newID func() string
	now   func() time.Time

	mu     sync.Mutex
	active *recording

	deliverMu sync.Mutex
	inflight  sync.WaitGroup
	results   chan Result
}

type recording struct {
	stream    media.AudioStream
	encoder   media.Encoder
	codec     media.Codec
	question  string
	cancel    context.CancelFunc
	buf       bytes.Buffer
	collected chan struct{}
}

// New creates a pipeline. A nil outbox keeps queued answers in memory only.
func New(mic Microphone, submitter Submitter, outbox store.Outbox, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if outbox == nil {
		outbox = store.NewMemory()
	}
	prefs := cfg.Preferences
	if len(prefs) == 0 {
		prefs = media.DefaultPreferences()
	}
	drain := cfg.DrainTimeout
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}
	return &Pipeline{
		mic:       mic,
		submitter: submitter,
		outbox:    outbox,
		logger:    logger,
		prefs:     prefs,
		drain:     drain,
		newID:     uuid.NewString,
		now:       time.Now,
		results:   make(chan Result, resultBufferSize),
	}
}

// Results reports delivery outcomes. Results are dropped if the consumer
// falls behind.
func (p *Pipeline) Results() <-chan Result {
	return p.results
}

// Recording reports whether a recording is live.
func (p *Pipeline) Recording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil
}

// Start acquires the microphone and begins recording an answer to question.
func (p *Pipeline) Start(ctx context.Context, question string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		return core.NewAlreadyRecordingError()
	}
	if p.mic == nil {
		return core.NewDeviceUnavailableError("microphone", nil)
	}

	stream, err := p.mic.AcquireAudio(ctx)
	if err != nil {
		return err
	}
	codec, err := media.Negotiate(stream, p.prefs, p.logger)
	if err != nil {
		p.mic.Release(stream)
		return err
	}

	recCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	enc, err := stream.Record(recCtx, codec)
	if err != nil {
		cancel()
		p.mic.Release(stream)
		return core.NewDeviceUnavailableError("microphone", err)
	}

	rec := &recording{
		stream:    stream,
		encoder:   enc,
		codec:     codec,
		question:  question,
		cancel:    cancel,
		collected: make(chan struct{}),
	}
	go rec.collect()
	p.active = rec
	p.logger.Info("recording started", "codec", codec.Name)
	return nil
}

func (r *recording) collect() {
	defer close(r.collected)
	for chunk := range r.encoder.Chunks() {
		r.buf.Write(chunk)
	}
}

// Stop finalizes the live recording into a single artifact, queues it and
// starts delivery in the background. Stop while idle is a no-op that
// returns a nil answer.
func (p *Pipeline) Stop(ctx context.Context) (*types.Answer, error) {
	p.mu.Lock()
	rec := p.active
	p.active = nil
	p.mu.Unlock()
	if rec == nil {
		return nil, nil
	}

	audio, stopErr := p.finish(rec)
	if stopErr != nil {
		p.logger.Warn("encoder stop failed", "error", stopErr)
	}
	if len(audio) == 0 {
		p.logger.Warn("recording produced no audio; nothing submitted")
		return nil, nil
	}

	answer := types.Answer{
		ID:          p.newID(),
		Question:    rec.question,
		Filename:    rec.codec.Filename(),
		ContentType: rec.codec.ContentType(),
		Audio:       audio,
		CreatedAt:   p.now().UTC(),
	}
	if err := p.outbox.Enqueue(ctx, answer); err != nil {
		p.logger.Warn("answer outbox write failed; delivering without durability", "answer", answer.ID, "error", err)
		p.inflight.Add(1)
		go func() {
			defer p.inflight.Done()
			p.deliverOne(context.WithoutCancel(ctx), answer)
		}()
		return &answer, nil
	}
	p.logger.Info("answer queued", "answer", answer.ID, "bytes", len(audio), "content_type", answer.ContentType)

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		_, _ = p.Flush(context.WithoutCancel(ctx))
	}()
	return &answer, nil
}

// Abort stops a live recording without submitting it.
func (p *Pipeline) Abort() {
	p.mu.Lock()
	rec := p.active
	p.active = nil
	p.mu.Unlock()
	if rec == nil {
		return
	}
	if _, err := p.finish(rec); err != nil {
		p.logger.Debug("encoder stop failed", "error", err)
	}
	p.logger.Info("recording discarded")
}

func (p *Pipeline) finish(rec *recording) ([]byte, error) {
	err := rec.encoder.Stop()
	select {
	case <-rec.collected:
	case <-time.After(encoderStopTimeout):
		err = errors.Join(err, errors.New("encoder did not flush before timeout"))
	}
	rec.cancel()
	p.mic.Release(rec.stream)
	select {
	case <-rec.collected:
		return bytes.Clone(rec.buf.Bytes()), err
	default:
		return nil, err
	}
}

// Flush attempts delivery of every queued answer once, oldest first. It
// returns the number delivered and the last delivery error.
func (p *Pipeline) Flush(ctx context.Context) (int, error) {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	pending, err := p.outbox.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("read answer outbox: %w", err)
	}
	delivered := 0
	var lastErr error
	for _, answer := range pending {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if err := p.deliverOne(ctx, answer); err != nil {
			lastErr = err
			continue
		}
		delivered++
	}
	return delivered, lastErr
}

func (p *Pipeline) deliverOne(ctx context.Context, answer types.Answer) error {
	if p.submitter == nil {
		return core.NewInvalidStateError("no answer submitter configured")
	}
	eval, err := p.submitter.SubmitAnswer(ctx, answer)
	if err != nil {
		p.logger.Warn("answer submission failed", "answer", answer.ID, "attempt", answer.Attempts+1, "error", err)
		if markErr := p.outbox.MarkFailed(ctx, answer.ID, err); markErr != nil {
			p.logger.Warn("answer outbox update failed", "answer", answer.ID, "error", markErr)
		}
		p.emit(Result{Answer: withoutAudio(answer), Err: err})
		return err
	}
	if err := p.outbox.Remove(ctx, answer.ID); err != nil {
		p.logger.Warn("answer outbox remove failed", "answer", answer.ID, "error", err)
	}
	p.logger.Info("answer evaluated", "answer", answer.ID)
	p.emit(Result{Answer: withoutAudio(answer), Evaluation: eval})
	return nil
}

// Drain waits for background deliveries and retries queued answers until
// the outbox is empty, a non-retryable failure occurs, or the drain timeout
// elapses. It returns the answers still queued.
func (p *Pipeline) Drain(ctx context.Context) ([]types.Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, p.drain)
	defer cancel()

	waited := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
	}

	backoff := retry.WithCappedDuration(2*time.Second, retry.NewExponential(250*time.Millisecond))
	drainErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := p.Flush(ctx)
		pending, perr := p.outbox.Pending(ctx)
		if perr != nil {
			return perr
		}
		if len(pending) == 0 {
			return nil
		}
		if err == nil || core.IsRetryable(err) {
			return retry.RetryableError(fmt.Errorf("%d answers still queued", len(pending)))
		}
		return err
	})

	unresolved, err := p.outbox.Pending(context.WithoutCancel(ctx))
	if err != nil {
		return nil, fmt.Errorf("read answer outbox: %w", err)
	}
	for i := range unresolved {
		unresolved[i] = withoutAudio(unresolved[i])
	}
	if len(unresolved) > 0 {
		p.logger.Warn("answer outbox not drained", "unresolved", len(unresolved), "error", drainErr)
	}
	return unresolved, nil
}

func (p *Pipeline) emit(r Result) {
	select {
	case p.results <- r:
	default:
	}
}

func withoutAudio(a types.Answer) types.Answer {
	a.Audio = nil
	return a
}
