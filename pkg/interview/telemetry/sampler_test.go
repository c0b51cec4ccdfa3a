package telemetry

import (
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-go/vai-interview/pkg/interview/protocol"
)

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	return img
}

func decodeFrame(t *testing.T, frame protocol.ClientFrame) image.Config {
	t.Helper()
	if !strings.HasPrefix(frame.Image, protocol.FrameDataURLPrefix) {
		t.Fatalf("frame missing data URL prefix: %.40q", frame.Image)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(frame.Image, protocol.FrameDataURLPrefix))
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(strings.NewReader(string(raw)))
	if err != nil {
		t.Fatalf("jpeg: %v", err)
	}
	return cfg
}

func TestEncodeFrame_Downscales(t *testing.T) {
	frame, err := EncodeFrame(solidImage(640, 480), 320, 70)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	cfg := decodeFrame(t, frame)
	if cfg.Width != 320 || cfg.Height != 240 {
		t.Fatalf("size=%dx%d, want 320x240", cfg.Width, cfg.Height)
	}
}

func TestEncodeFrame_KeepsSmallImages(t *testing.T) {
	frame, err := EncodeFrame(solidImage(160, 120), 320, 0)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	cfg := decodeFrame(t, frame)
	if cfg.Width != 160 || cfg.Height != 120 {
		t.Fatalf("size=%dx%d, want 160x120", cfg.Width, cfg.Height)
	}
	if _, err := EncodeFrame(nil, 320, 70); err == nil {
		t.Fatalf("expected error for nil image")
	}
}

type fakeSink struct {
	status atomic.Int32
	frames chan protocol.ClientFrame
}

func (s *fakeSink) Status() Status { return Status(s.status.Load()) }

func (s *fakeSink) SendFrame(frame protocol.ClientFrame) bool {
	s.frames <- frame
	return true
}

func TestSampler_OnlySendsWhileOpen(t *testing.T) {
	sink := &fakeSink{frames: make(chan protocol.ClientFrame, 4)}
	sink.status.Store(int32(StatusConnecting))
	ticks := make(chan time.Time)
	s := &Sampler{
		Interval: time.Second,
		Snapshot: func() (image.Image, bool) { return solidImage(64, 48), true },
		Sink:     sink,
		newTicker: func(time.Duration) (<-chan time.Time, func()) {
			return ticks, func() {}
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	ticks <- time.Now()
	sink.status.Store(int32(StatusOpen))
	ticks <- time.Now()
	select {
	case <-sink.frames:
	case <-time.After(3 * time.Second):
		t.Fatalf("no frame sent while open")
	}
	sink.status.Store(int32(StatusClosed))
	ticks <- time.Now()
	cancel()
	<-done

	if n := len(sink.frames); n != 0 {
		t.Fatalf("frames sent while not open: %d", n)
	}
}

func TestSampler_SkipsWithoutCamera(t *testing.T) {
	sink := &fakeSink{frames: make(chan protocol.ClientFrame, 4)}
	sink.status.Store(int32(StatusOpen))
	ticks := make(chan time.Time)
	s := &Sampler{
		Snapshot:  func() (image.Image, bool) { return nil, false },
		Sink:      sink,
		newTicker: func(time.Duration) (<-chan time.Time, func()) { return ticks, func() {} },
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	ticks <- time.Now()
	ticks <- time.Now()
	cancel()
	<-done
	if n := len(sink.frames); n != 0 {
		t.Fatalf("frames=%d, want 0", n)
	}
}
