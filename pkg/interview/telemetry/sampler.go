package telemetry

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"log/slog"
	"time"

	"golang.org/x/image/draw"

	"github.com/vango-go/vai-interview/pkg/interview/protocol"
)

const (
	DefaultFrameInterval = time.Second
	DefaultFrameMaxWidth = 320
	DefaultJPEGQuality   = 70
)

// EncodeFrame downscales img to at most maxWidth pixels wide and encodes it
// as a JPEG data URL frame.
func EncodeFrame(img image.Image, maxWidth, quality int) (protocol.ClientFrame, error) {
	if img == nil {
		return protocol.ClientFrame{}, errors.New("frame image must not be nil")
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	src := img.Bounds()
	if src.Dx() <= 0 || src.Dy() <= 0 {
		return protocol.ClientFrame{}, errors.New("frame image is empty")
	}
	if maxWidth > 0 && src.Dx() > maxWidth {
		h := src.Dy() * maxWidth / src.Dx()
		if h < 1 {
			h = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
		img = dst
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return protocol.ClientFrame{}, err
	}
	return protocol.NewClientFrame(buf.Bytes()), nil
}

// FrameSink receives sampled frames.
type FrameSink interface {
	Status() Status
	SendFrame(frame protocol.ClientFrame) bool
}

// Sampler snapshots the camera at a fixed cadence and offers each frame to
// the sink. Frames are taken only while the sink is open.
type Sampler struct {
	Interval time.Duration
	MaxWidth int
	Quality  int
	// Snapshot returns the current camera frame. It returns ok=false when no
	// camera is held.
	Snapshot func() (image.Image, bool)
	Sink     FrameSink
	Logger   *slog.Logger

	newTicker func(time.Duration) (<-chan time.Time, func())
}

// Run samples until ctx is done.
func (s *Sampler) Run(ctx context.Context) error {
	if s.Sink == nil || s.Snapshot == nil {
		return nil
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	maxWidth := s.MaxWidth
	if maxWidth <= 0 {
		maxWidth = DefaultFrameMaxWidth
	}
	newTicker := s.newTicker
	if newTicker == nil {
		newTicker = func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		}
	}

	ticks, stop := newTicker(interval)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
		}
		if s.Sink.Status() != StatusOpen {
			continue
		}
		img, ok := s.Snapshot()
		if !ok || img == nil {
			continue
		}
		frame, err := EncodeFrame(img, maxWidth, s.Quality)
		if err != nil {
			logger.Debug("frame encode failed", "error", err)
			continue
		}
		s.Sink.SendFrame(frame)
	}
}
