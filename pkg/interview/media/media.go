// Package media acquires and releases the camera and microphone streams used
// by an interview. Every acquired stream is tracked so it can be released on
// any exit path; Release is idempotent.
package media

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/vango-go/vai-interview/pkg/core"
)

// Kind distinguishes stream types.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// Stream is a live device stream.
type Stream interface {
	ID() string
	Kind() Kind
	Close() error
}

// VideoStream yields still snapshots of the live camera feed.
type VideoStream interface {
	Stream
	Snapshot() (image.Image, error)
}

// AudioStream is a live microphone that can be recorded in a given codec.
type AudioStream interface {
	Stream
	Supports(codec Codec) bool
	// DefaultCodec is the encoding the runtime always accepts.
	DefaultCodec() Codec
	Record(ctx context.Context, codec Codec) (Encoder, error)
}

// Encoder produces encoded chunks until stopped. Chunks is closed once the
// encoder has flushed all data after Stop.
type Encoder interface {
	Chunks() <-chan []byte
	Stop() error
}

// Device opens raw device streams. Implementations return an error when the
// device is denied or absent.
type Device interface {
	OpenVideo(ctx context.Context) (VideoStream, error)
	OpenAudio(ctx context.Context) (AudioStream, error)
}

// Manager owns every device stream for the lifetime of an interview.
type Manager struct {
	device Device
	logger *slog.Logger

	mu    sync.Mutex
	live  map[string]Stream
	video string

	cameraOn atomic.Bool
}

func NewManager(device Device, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		device: device,
		logger: logger,
		live:   make(map[string]Stream),
	}
}

// AcquireVideo opens the camera, releasing any camera stream acquired before.
func (m *Manager) AcquireVideo(ctx context.Context) (VideoStream, error) {
	m.mu.Lock()
	prev := m.live[m.video]
	m.mu.Unlock()
	if prev != nil {
		m.Release(prev)
	}

	if m.device == nil {
		return nil, core.NewDeviceUnavailableError("camera", nil)
	}
	v, err := m.device.OpenVideo(ctx)
	if err != nil {
		m.logger.Warn("camera unavailable", "error", err)
		return nil, asDeviceError("camera", err)
	}

	m.mu.Lock()
	m.live[v.ID()] = v
	m.video = v.ID()
	m.mu.Unlock()
	m.cameraOn.Store(true)
	m.logger.Info("camera acquired", "stream", v.ID())
	return v, nil
}

// AcquireAudio opens the microphone.
func (m *Manager) AcquireAudio(ctx context.Context) (AudioStream, error) {
	if m.device == nil {
		return nil, core.NewDeviceUnavailableError("microphone", nil)
	}
	a, err := m.device.OpenAudio(ctx)
	if err != nil {
		m.logger.Warn("microphone unavailable", "error", err)
		return nil, asDeviceError("microphone", err)
	}
	m.mu.Lock()
	m.live[a.ID()] = a
	m.mu.Unlock()
	m.logger.Debug("microphone acquired", "stream", a.ID())
	return a, nil
}

// Release stops a stream. Releasing nil or an already released stream is a no-op.
func (m *Manager) Release(s Stream) {
	if s == nil {
		return
	}
	id := s.ID()

	m.mu.Lock()
	if _, ok := m.live[id]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.live, id)
	wasVideo := id == m.video
	if wasVideo {
		m.video = ""
	}
	m.mu.Unlock()

	if wasVideo {
		m.cameraOn.Store(false)
	}
	if err := s.Close(); err != nil {
		m.logger.Warn("stream close failed", "stream", id, "kind", s.Kind(), "error", err)
		return
	}
	m.logger.Debug("stream released", "stream", id, "kind", s.Kind())
}

// ReleaseAll stops every live stream.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	streams := make([]Stream, 0, len(m.live))
	for _, s := range m.live {
		streams = append(streams, s)
	}
	m.mu.Unlock()
	for _, s := range streams {
		m.Release(s)
	}
}

// CameraOn reports whether a camera stream is currently held.
func (m *Manager) CameraOn() bool {
	return m.cameraOn.Load()
}

// Video returns the current camera stream, or nil.
func (m *Manager) Video() VideoStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, _ := m.live[m.video].(VideoStream)
	return v
}

// LiveCount returns the number of streams not yet released.
func (m *Manager) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func asDeviceError(device string, err error) error {
	if core.IsType(err, core.ErrDeviceUnavailable) {
		return err
	}
	return core.NewDeviceUnavailableError(device, err)
}
