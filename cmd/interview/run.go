package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vango-go/vai-interview/pkg/core/types"
	"github.com/vango-go/vai-interview/pkg/interview/media"
	"github.com/vango-go/vai-interview/pkg/interview/session"
)

const reportTimeout = 30 * time.Second

const runHelp = `commands:
  camera   turn the camera on
  start    start the interview
  next     move to the next question
  record   start recording an answer
  stop     stop recording and submit the answer
  eval     finish and generate the evaluation
  end      end the interview early
  status   show progress
  quit     leave; progress is kept for resume`

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run an interactive interview session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSession(cmd.Context())
		},
	}
}

// resultsPrinter is the results view: it prints the outcome and the
// backend's report as YAML.
type resultsPrinter struct {
	out     io.Writer
	backend interviewBackend
	done    chan struct{}
	once    sync.Once
}

type outcomeView struct {
	Reason           string        `yaml:"reason"`
	TimedOut         bool          `yaml:"timed_out"`
	Attempted        int           `yaml:"attempted"`
	Total            int           `yaml:"total"`
	RemainingSeconds int           `yaml:"remaining_seconds"`
	Unresolved       []string      `yaml:"unresolved_answers,omitempty"`
	FaceConfidence   *float64      `yaml:"face_confidence,omitempty"`
	Report           *types.Report `yaml:"report,omitempty"`
	ReportError      string        `yaml:"report_error,omitempty"`
}

func (r *resultsPrinter) ShowResults(ctx context.Context, o session.Outcome) error {
	defer r.once.Do(func() { close(r.done) })

	view := outcomeView{
		Reason:           string(o.Reason),
		TimedOut:         o.TimedOut,
		Attempted:        o.Final.AttemptedCount,
		Total:            o.Final.TotalQuestions,
		RemainingSeconds: o.Final.TimerSecondsRemaining,
	}
	for _, a := range o.Unresolved {
		view.Unresolved = append(view.Unresolved, a.Question)
	}
	if o.HasFaceConfidence {
		fc := o.FaceConfidence
		view.FaceConfidence = &fc
	}

	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()
	report, err := r.backend.InterviewReport(ctx)
	if err != nil {
		view.ReportError = err.Error()
	} else {
		view.Report = report
	}

	fmt.Fprintln(r.out, "--- results ---")
	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return err
	}
	return enc.Close()
}

func (a *app) runSession(ctx context.Context) error {
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	be, err := a.deps.newBackend(a.cfg, a.logger)
	if err != nil {
		return err
	}
	sessionCfg, err := a.cfg.SessionConfig()
	if err != nil {
		return err
	}

	results := &resultsPrinter{out: a.out, backend: be, done: make(chan struct{})}
	ctrl, err := session.New(ctx, session.Dependencies{
		Media:   media.NewManager(a.deps.newDevice(a.cfg, a.logger), a.logger),
		Backend: be,
		Store:   st,
		Results: results,
		Logger:  a.logger,
	}, sessionCfg)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	alertsDone := make(chan struct{})
	alertsCtx, stopAlerts := context.WithCancel(ctx)
	go func() {
		defer close(alertsDone)
		for {
			select {
			case <-alertsCtx.Done():
				return
			case al := <-ctrl.Alerts():
				fmt.Fprintf(a.out, "! %s\n", al.Message)
			}
		}
	}()
	defer func() {
		stopAlerts()
		<-alertsDone
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.deps.stdin)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-alertsCtx.Done():
				return
			}
		}
	}()

	snap := ctrl.Snapshot()
	if snap.Phase == types.PhaseActive {
		fmt.Fprintln(a.out, "Resuming interview. Turn the camera back on with 'camera'.")
	}
	printStatus(a.out, snap)
	fmt.Fprintln(a.out, runHelp)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-results.done:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			if quit := a.dispatch(ctx, ctrl, line); quit {
				return nil
			}
			select {
			case <-results.done:
				return nil
			default:
			}
		}
	}
}

// dispatch runs one prompt command and reports whether the loop should end.
func (a *app) dispatch(ctx context.Context, ctrl *session.Controller, line string) bool {
	out := a.out
	var err error
	switch strings.ToLower(line) {
	case "camera":
		if err = ctrl.TurnOnCamera(ctx); err == nil {
			fmt.Fprintln(out, "Camera on.")
		}
	case "start":
		var q *types.Question
		if q, err = ctrl.StartInterview(ctx); err == nil {
			printQuestion(out, ctrl.Snapshot().State, q)
		}
	case "next":
		var advanced bool
		var q *types.Question
		advanced, q, err = ctrl.NextQuestion(ctx)
		if err == nil && advanced && q != nil {
			printQuestion(out, ctrl.Snapshot().State, q)
		}
	case "record":
		if err = ctrl.StartRecording(ctx); err == nil {
			fmt.Fprintln(out, "Recording... type 'stop' when done.")
		}
	case "stop":
		var answer *types.Answer
		if answer, err = ctrl.StopRecording(ctx); err == nil {
			if answer == nil {
				fmt.Fprintln(out, "Nothing was recording.")
			} else {
				fmt.Fprintf(out, "Answer saved (%s); submitting for evaluation.\n", answer.Filename)
			}
		}
	case "eval":
		_, err = ctrl.GenerateEvaluation(ctx)
	case "end":
		_, err = ctrl.EndInterview(ctx)
	case "status":
		printStatus(out, ctrl.Snapshot())
	case "help":
		fmt.Fprintln(out, runHelp)
	case "quit", "exit":
		fmt.Fprintln(out, "Leaving; your progress is saved.")
		return true
	default:
		fmt.Fprintf(out, "unknown command %q (try 'help')\n", line)
	}
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
	}
	return false
}

func printQuestion(w io.Writer, st types.SessionState, q *types.Question) {
	fmt.Fprintf(w, "Question %d of %d: %s\n", st.QuestionIndex+1, st.TotalQuestions, q.Text)
	if q.AudioURL != "" {
		fmt.Fprintf(w, "  audio: %s\n", q.AudioURL)
	}
}

func printStatus(w io.Writer, s session.Snapshot) {
	remaining := time.Duration(s.State.TimerSecondsRemaining) * time.Second
	fmt.Fprintf(w, "phase=%s question=%d/%d attempted=%d remaining=%s camera=%t recording=%t",
		s.Phase, s.State.QuestionIndex+1, s.State.TotalQuestions, s.State.AttemptedCount,
		remaining, s.CameraOn, s.Recording)
	if s.Telemetry != "" {
		fmt.Fprintf(w, " telemetry=%s", s.Telemetry)
	}
	if s.HasFaceConfidence {
		fmt.Fprintf(w, " confidence=%.2f", s.FaceConfidence)
	}
	fmt.Fprintln(w)
}
