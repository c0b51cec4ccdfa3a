// Package session is the interview session controller: the state machine
// that coordinates devices, the telemetry channel, question sequencing,
// answer capture, the countdown and persistence.
//
//	NotStarted -> CameraReady -> Active -> Finalizing -> Terminated
//
// A controller whose store shows a started interview resumes directly in
// Active.
package session

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/core/types"
	"github.com/vango-go/vai-interview/pkg/interview/capture"
	"github.com/vango-go/vai-interview/pkg/interview/countdown"
	"github.com/vango-go/vai-interview/pkg/interview/media"
	"github.com/vango-go/vai-interview/pkg/interview/sequencer"
	"github.com/vango-go/vai-interview/pkg/interview/store"
	"github.com/vango-go/vai-interview/pkg/interview/telemetry"
)

const (
	DefaultPerQuestion = 4 * time.Minute
	alertBufferSize    = 32
)

// Media is the device owner. *media.Manager satisfies it.
type Media interface {
	AcquireVideo(ctx context.Context) (media.VideoStream, error)
	AcquireAudio(ctx context.Context) (media.AudioStream, error)
	Release(s media.Stream)
	ReleaseAll()
	CameraOn() bool
	Video() media.VideoStream
}

// Backend is the remote question and evaluation service.
type Backend interface {
	sequencer.QuestionSource
	capture.Submitter
}

// ResultsHandoff receives the outcome of a finalized interview.
type ResultsHandoff interface {
	ShowResults(ctx context.Context, outcome Outcome) error
}

// Outcome is handed to the results collaborator on finalize.
type Outcome struct {
	Reason   types.FinalizeReason
	TimedOut bool
	// Final is the session state at the moment finalize was claimed.
	Final types.SessionState
	// Unresolved lists answers that could not be delivered before the
	// drain timeout. Audio is not included.
	Unresolved        []types.Answer
	FaceConfidence    float64
	HasFaceConfidence bool
}

// Config tunes a controller.
type Config struct {
	// TotalQuestions overrides the persisted question count when > 0.
	TotalQuestions int
	// Duration is the interview length. Zero uses TotalQuestions * PerQuestion.
	Duration     time.Duration
	PerQuestion  time.Duration
	Codecs       []media.Codec
	DrainTimeout time.Duration

	Telemetry     telemetry.Config
	FrameInterval time.Duration
	FrameMaxWidth int
	JPEGQuality   int

	// TickInterval is the countdown tick period; each tick is one second
	// of interview time.
	TickInterval time.Duration
}

// Dependencies are the controller's collaborators.
type Dependencies struct {
	Media   Media
	Backend Backend
	Store   store.Backend
	Results ResultsHandoff
	// Telemetry overrides the channel built from Config.Telemetry.
	Telemetry *telemetry.Channel
	Logger    *slog.Logger
}

// Controller owns the interview session. User actions are serialized; the
// countdown and telemetry run in the background.
type Controller struct {
	cfg     Config
	logger  *slog.Logger
	media   Media
	backend Backend
	results ResultsHandoff

	ledger   *ledger
	seq      *sequencer.Sequencer
	capture  *capture.Pipeline
	timer    *countdown.Timer
	channel  *telemetry.Channel
	initial  int
	actionMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	group     *errgroup.Group
	bgOnce    sync.Once
	closed    atomic.Bool
	closeOnce sync.Once

	alerts  chan Alert
	outcome atomic.Pointer[Outcome]
}

// New builds a controller from persisted state. If the store shows a
// started interview the controller resumes in Active with the countdown
// running; the camera must be turned on again.
func New(ctx context.Context, deps Dependencies, cfg Config) (*Controller, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Backend == nil {
		return nil, core.NewInvalidRequestError("backend must not be nil")
	}
	if deps.Media == nil {
		return nil, core.NewInvalidRequestError("media must not be nil")
	}
	backend := deps.Store
	if backend == nil {
		backend = store.NewMemory()
	}
	if cfg.PerQuestion <= 0 {
		cfg.PerQuestion = DefaultPerQuestion
	}

	sessions := store.NewSessionStore(backend, logger)
	total := cfg.TotalQuestions
	if total <= 0 {
		n, ok, err := sessions.TotalQuestions(ctx)
		if err != nil {
			return nil, err
		}
		if !ok || n <= 0 {
			return nil, core.NewInvalidRequestErrorWithParam("question count is unknown; upload a resume first", "total_questions")
		}
		total = n
	}
	initial := int(cfg.Duration / time.Second)
	if initial <= 0 {
		initial = total * int(cfg.PerQuestion/time.Second)
	}

	st, err := sessions.Load(ctx, types.SessionState{TotalQuestions: total, TimerSecondsRemaining: initial})
	if err != nil {
		return nil, err
	}
	if !st.Started {
		st = types.SessionState{TotalQuestions: total, TimerSecondsRemaining: initial}
	}
	st = st.Normalize()

	rec := record{Phase: types.PhaseNotStarted, State: st}
	if st.Started {
		rec.Phase = types.PhaseActive
	}

	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &Controller{
		cfg:     cfg,
		logger:  logger,
		media:   deps.Media,
		backend: deps.Backend,
		results: deps.Results,
		initial: initial,
		ctx:     bgCtx,
		cancel:  cancel,
		alerts:  make(chan Alert, alertBufferSize),
	}
	c.ledger = newLedger(sessions, rec, logger)
	active := activeLedger{l: c.ledger}
	c.seq = sequencer.New(deps.Backend, active, logger)
	c.capture = capture.New(deps.Media, deps.Backend, backend, capture.Config{
		Preferences:  cfg.Codecs,
		DrainTimeout: cfg.DrainTimeout,
	}, logger)
	c.timer = countdown.New(active, c.onTimerExpired, logger, countdown.WithInterval(cfg.TickInterval))

	c.channel = deps.Telemetry
	if c.channel == nil && cfg.Telemetry.URL != "" {
		c.channel = telemetry.New(cfg.Telemetry, telemetry.WithLogger(logger))
	}
	c.startBackground()

	if rec.Phase == types.PhaseActive {
		logger.Info("interview resumed",
			"question_index", st.QuestionIndex,
			"attempted", st.AttemptedCount,
			"total", st.TotalQuestions,
			"remaining_seconds", st.TimerSecondsRemaining,
		)
		if st.TimerSecondsRemaining > 0 {
			c.timer.Start(c.ctx)
		} else {
			// Expired before the last finalize completed.
			go c.onTimerExpired()
		}
	}
	return c, nil
}

func (c *Controller) startBackground() {
	g, gctx := errgroup.WithContext(c.ctx)
	c.group = g

	g.Go(func() error {
		c.relayResults(gctx)
		return nil
	})
	if c.channel == nil {
		return
	}
	sampler := &telemetry.Sampler{
		Interval: c.cfg.FrameInterval,
		MaxWidth: c.cfg.FrameMaxWidth,
		Quality:  c.cfg.JPEGQuality,
		Snapshot: c.cameraFrame,
		Sink:     c.channel,
		Logger:   c.logger,
	}
	g.Go(func() error { return c.channel.Run(gctx) })
	g.Go(func() error { return sampler.Run(gctx) })
	g.Go(func() error {
		c.relayTelemetry(gctx)
		return nil
	})
}

func (c *Controller) stopBackground() {
	c.bgOnce.Do(func() {
		c.cancel()
		if c.channel != nil {
			_ = c.channel.Close()
		}
		if err := c.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("background task ended with error", "error", err)
		}
	})
}

func (c *Controller) cameraFrame() (image.Image, bool) {
	v := c.media.Video()
	if v == nil {
		return nil, false
	}
	img, err := v.Snapshot()
	if err != nil {
		return nil, false
	}
	return img, true
}

func (c *Controller) relayTelemetry(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.channel.Events():
			if !ok {
				return
			}
			if s, ok := ev.(telemetry.StatusEvent); ok && s.Status == telemetry.StatusDegraded {
				c.alert(AlertTelemetryDegraded, "Live confidence scoring is unavailable; the interview continues without it.", s.Err)
			}
		}
	}
}

func (c *Controller) relayResults(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-c.capture.Results():
			if r.Err != nil {
				c.alert(AlertSubmission, "Answer submission failed; it will be retried.", r.Err)
			}
		}
	}
}

// Alerts returns user-visible alerts. Alerts are dropped if the consumer
// falls behind.
func (c *Controller) Alerts() <-chan Alert {
	return c.alerts
}

// Outcome returns the finalize outcome once the session has terminated.
func (c *Controller) Outcome() (Outcome, bool) {
	o := c.outcome.Load()
	if o == nil {
		return Outcome{}, false
	}
	return *o, true
}

// Snapshot returns an immutable view of the session.
func (c *Controller) Snapshot() Snapshot {
	rec := c.ledger.current()
	snap := Snapshot{
		Phase:     rec.Phase,
		State:     rec.State,
		Reason:    rec.Reason,
		TimedOut:  rec.Reason == types.FinalizeTimeout,
		CameraOn:  c.media.CameraOn(),
		Recording: c.capture.Recording(),
	}
	if rec.Question != nil {
		q := *rec.Question
		snap.Question = &q
	}
	if c.channel != nil {
		snap.Telemetry = c.channel.Status().String()
		snap.FaceConfidence, snap.HasFaceConfidence = c.channel.LastScore()
	}
	return snap
}

func (c *Controller) begin() error {
	if c.closed.Load() {
		return core.NewInvalidStateError("session is closed")
	}
	return nil
}

func (c *Controller) requirePhase(allowed ...types.Phase) error {
	phase := c.ledger.current().Phase
	for _, p := range allowed {
		if phase == p {
			return nil
		}
	}
	return core.NewInvalidStateError("operation not allowed while " + phase.String())
}

// TurnOnCamera acquires the camera. Turning it on again releases the
// previous stream first.
func (c *Controller) TurnOnCamera(ctx context.Context) error {
	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	if err := c.begin(); err != nil {
		return err
	}
	if err := c.requirePhase(types.PhaseNotStarted, types.PhaseCameraReady, types.PhaseActive); err != nil {
		return err
	}
	if _, err := c.media.AcquireVideo(ctx); err != nil {
		c.alert(AlertDevice, "Camera is unavailable.", err)
		return err
	}
	_, err := c.ledger.exec(ctx, func(r *record) (persistMode, error) {
		if r.Phase == types.PhaseNotStarted {
			r.Phase = types.PhaseCameraReady
		}
		return persistNone, nil
	})
	return err
}

// StartInterview resets progress, starts the countdown and fetches the
// first question.
func (c *Controller) StartInterview(ctx context.Context) (*types.Question, error) {
	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	if err := c.begin(); err != nil {
		return nil, err
	}
	if _, err := c.ledger.exec(ctx, func(r *record) (persistMode, error) {
		if r.Phase != types.PhaseCameraReady {
			return persistNone, core.NewInvalidStateError("interview can only start with the camera on, not while " + r.Phase.String())
		}
		r.Phase = types.PhaseActive
		r.Reason = ""
		r.Question = nil
		r.State = types.SessionState{
			Started:               true,
			TimerSecondsRemaining: c.initial,
			TotalQuestions:        r.State.TotalQuestions,
		}
		return persistAll, nil
	}); err != nil {
		return nil, err
	}
	c.logger.Info("interview started", "total", c.ledger.current().State.TotalQuestions, "seconds", c.initial)
	c.timer.Start(c.ctx)

	q, err := c.seq.FetchNext(ctx)
	if err != nil {
		c.reportFetchError(err)
		return nil, err
	}
	c.setQuestion(ctx, q)
	return q, nil
}

// NextQuestion advances to the next question. When the current question is
// the last one the interview is finalized and advanced is false.
func (c *Controller) NextQuestion(ctx context.Context) (bool, *types.Question, error) {
	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	if err := c.begin(); err != nil {
		return false, nil, err
	}
	if err := c.requirePhase(types.PhaseActive); err != nil {
		return false, nil, err
	}

	ok, q, err := c.seq.Advance(ctx)
	if err != nil {
		if ok {
			c.setQuestion(ctx, nil)
		}
		c.reportFetchError(err)
		return ok, nil, err
	}
	if !ok {
		if _, ferr := c.finalizeLocked(ctx, types.FinalizeComplete); ferr != nil {
			return false, nil, ferr
		}
		return false, nil, nil
	}
	c.setQuestion(ctx, q)
	return true, q, nil
}

// StartRecording begins recording an answer to the current question.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	if err := c.begin(); err != nil {
		return err
	}
	if err := c.requirePhase(types.PhaseActive); err != nil {
		return err
	}
	question := ""
	if q := c.ledger.current().Question; q != nil {
		question = q.Text
	}
	if err := c.capture.Start(ctx, question); err != nil {
		if core.IsType(err, core.ErrDeviceUnavailable) {
			c.alert(AlertDevice, "Microphone is unavailable.", err)
		}
		return err
	}
	return nil
}

// StopRecording finalizes the live recording and queues it for evaluation.
// It is a no-op when nothing is recording.
func (c *Controller) StopRecording(ctx context.Context) (*types.Answer, error) {
	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	if err := c.begin(); err != nil {
		return nil, err
	}
	answer, err := c.capture.Stop(ctx)
	if answer != nil {
		a := *answer
		a.Audio = nil
		answer = &a
	}
	return answer, err
}

// GenerateEvaluation finalizes the interview after the last answer.
func (c *Controller) GenerateEvaluation(ctx context.Context) (Outcome, error) {
	return c.finalize(ctx, types.FinalizeEvaluate)
}

// EndInterview finalizes the interview early.
func (c *Controller) EndInterview(ctx context.Context) (Outcome, error) {
	return c.finalize(ctx, types.FinalizeEnded)
}

func (c *Controller) onTimerExpired() {
	if _, err := c.finalize(c.ctx, types.FinalizeTimeout); err != nil && !core.IsType(err, core.ErrInvalidState) {
		c.logger.Warn("timeout finalize failed", "error", err)
	}
}

func (c *Controller) finalize(ctx context.Context, reason types.FinalizeReason) (Outcome, error) {
	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	if err := c.begin(); err != nil {
		return Outcome{}, err
	}
	return c.finalizeLocked(ctx, reason)
}

// finalizeLocked claims the Finalizing phase, then releases everything
// outside the ledger and hands the outcome to the results collaborator.
func (c *Controller) finalizeLocked(ctx context.Context, reason types.FinalizeReason) (Outcome, error) {
	claimed, err := c.ledger.exec(ctx, func(r *record) (persistMode, error) {
		if r.Phase != types.PhaseActive {
			return persistNone, core.NewInvalidStateError("cannot finalize while " + r.Phase.String())
		}
		r.Phase = types.PhaseFinalizing
		r.Reason = reason
		return persistNone, nil
	})
	if err != nil {
		return Outcome{}, err
	}
	c.logger.Info("finalizing interview", "reason", reason)
	if reason == types.FinalizeTimeout {
		c.alert(AlertTimeExpired, "Time expired; partial results are shown.", nil)
	}
	// Finalize runs to completion once claimed; the drain has its own bound.
	ctx = context.WithoutCancel(ctx)

	c.timer.Stop()
	if c.capture.Recording() {
		if _, err := c.capture.Stop(ctx); err != nil {
			c.logger.Warn("final recording not captured", "error", err)
		}
	}
	unresolved, err := c.capture.Drain(ctx)
	if err != nil {
		c.logger.Warn("answer drain failed", "error", err)
	}

	outcome := Outcome{
		Reason:     reason,
		TimedOut:   reason == types.FinalizeTimeout,
		Final:      claimed.State,
		Unresolved: unresolved,
	}
	if c.channel != nil {
		outcome.FaceConfidence, outcome.HasFaceConfidence = c.channel.LastScore()
	}

	c.stopBackground()
	c.media.ReleaseAll()

	if _, err := c.ledger.exec(ctx, func(r *record) (persistMode, error) {
		r.State = types.SessionState{TotalQuestions: r.State.TotalQuestions, TimerSecondsRemaining: c.initial}
		r.Question = nil
		return persistClear, nil
	}); err != nil {
		c.logger.Warn("session store not cleared", "error", err)
	}

	c.outcome.Store(&outcome)
	var handoffErr error
	if c.results != nil {
		handoffErr = c.results.ShowResults(ctx, outcome)
		if handoffErr != nil {
			c.logger.Warn("results handoff failed", "error", handoffErr)
		}
	}

	if _, err := c.ledger.exec(ctx, func(r *record) (persistMode, error) {
		r.Phase = types.PhaseTerminated
		return persistNone, nil
	}); err != nil {
		c.logger.Warn("session not terminated", "error", err)
	}
	c.logger.Info("interview finalized",
		"reason", reason,
		"attempted", claimed.State.AttemptedCount,
		"total", claimed.State.TotalQuestions,
		"unresolved", len(unresolved),
	)
	return outcome, handoffErr
}

// Close tears the session down as when the candidate navigates away:
// devices are released and the countdown and telemetry stop. Persisted
// progress is kept so the interview can resume.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.timer.Stop()
		c.capture.Abort()
		c.stopBackground()
		c.media.ReleaseAll()
		c.ledger.stop()
		c.logger.Debug("session closed")
	})
	return nil
}

func (c *Controller) setQuestion(ctx context.Context, q *types.Question) {
	_, _ = c.ledger.exec(ctx, func(r *record) (persistMode, error) {
		r.Question = q
		return persistNone, nil
	})
}

func (c *Controller) reportFetchError(err error) {
	switch {
	case core.IsType(err, core.ErrNoMoreQuestions):
		var coreErr *core.Error
		msg := "No more questions."
		if errors.As(err, &coreErr) && coreErr.Message != "" {
			msg = coreErr.Message
		}
		c.alert(AlertNoMoreQuestions, msg, nil)
	case core.IsType(err, core.ErrInvalidState):
	default:
		c.alert(AlertNetwork, "Could not load the next question.", err)
	}
}

func (c *Controller) alert(kind AlertKind, message string, err error) {
	a := Alert{Kind: kind, Message: message, Err: err, At: time.Now()}
	if err != nil {
		c.logger.Warn("alert", "kind", kind, "message", message, "error", err)
	} else {
		c.logger.Info("alert", "kind", kind, "message", message)
	}
	select {
	case c.alerts <- a:
	default:
	}
}
