package media

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"

	"github.com/vango-go/vai-interview/pkg/core"
)

type fakeVideo struct {
	id     string
	mu     sync.Mutex
	closes int
}

func (v *fakeVideo) ID() string { return v.id }
func (v *fakeVideo) Kind() Kind { return KindVideo }
func (v *fakeVideo) Snapshot() (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}
func (v *fakeVideo) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closes++
	return nil
}
func (v *fakeVideo) closeCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closes
}

type fakeAudio struct {
	id        string
	supported map[string]bool
	def       Codec
	closes    int
}

func (a *fakeAudio) ID() string { return a.id }
func (a *fakeAudio) Kind() Kind { return KindAudio }
func (a *fakeAudio) Supports(c Codec) bool { return a.supported[c.Name] }
func (a *fakeAudio) DefaultCodec() Codec { return a.def }
func (a *fakeAudio) Close() error {
	a.closes++
	return nil
}
func (a *fakeAudio) Record(context.Context, Codec) (Encoder, error) {
	return nil, errors.New("not implemented")
}

type fakeDevice struct {
	videoErr error
	audioErr error
	videos   []*fakeVideo
	n        int
}

func (d *fakeDevice) OpenVideo(context.Context) (VideoStream, error) {
	if d.videoErr != nil {
		return nil, d.videoErr
	}
	d.n++
	v := &fakeVideo{id: "v" + string(rune('0'+d.n))}
	d.videos = append(d.videos, v)
	return v, nil
}

func (d *fakeDevice) OpenAudio(context.Context) (AudioStream, error) {
	if d.audioErr != nil {
		return nil, d.audioErr
	}
	d.n++
	return &fakeAudio{id: "a" + string(rune('0'+d.n)), def: CodecWAV}, nil
}

func TestManager_AcquireVideoSetsCameraOn(t *testing.T) {
	m := NewManager(&fakeDevice{}, nil)
	if m.CameraOn() {
		t.Fatalf("camera on before acquire")
	}
	v, err := m.AcquireVideo(context.Background())
	if err != nil {
		t.Fatalf("AcquireVideo: %v", err)
	}
	if !m.CameraOn() {
		t.Fatalf("camera not on after acquire")
	}
	if m.Video() != v {
		t.Fatalf("Video() did not return the acquired stream")
	}
	m.Release(v)
	if m.CameraOn() {
		t.Fatalf("camera still on after release")
	}
	if m.Video() != nil {
		t.Fatalf("Video() should be nil after release")
	}
}

func TestManager_ReacquireReleasesPreviousCamera(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, nil)
	if _, err := m.AcquireVideo(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := m.AcquireVideo(context.Background()); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if got := dev.videos[0].closeCount(); got != 1 {
		t.Fatalf("previous camera closes=%d, want 1", got)
	}
	if got := m.LiveCount(); got != 1 {
		t.Fatalf("LiveCount=%d, want 1", got)
	}
	if !m.CameraOn() {
		t.Fatalf("camera should remain on")
	}
}

func TestManager_ReleaseIsIdempotent(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, nil)
	v, err := m.AcquireVideo(context.Background())
	if err != nil {
		t.Fatalf("AcquireVideo: %v", err)
	}
	m.Release(v)
	m.Release(v)
	m.Release(nil)
	if got := dev.videos[0].closeCount(); got != 1 {
		t.Fatalf("closes=%d, want 1", got)
	}
}

func TestManager_ReleaseAll(t *testing.T) {
	m := NewManager(&fakeDevice{}, nil)
	if _, err := m.AcquireVideo(context.Background()); err != nil {
		t.Fatalf("AcquireVideo: %v", err)
	}
	if _, err := m.AcquireAudio(context.Background()); err != nil {
		t.Fatalf("AcquireAudio: %v", err)
	}
	if got := m.LiveCount(); got != 2 {
		t.Fatalf("LiveCount=%d, want 2", got)
	}
	m.ReleaseAll()
	if got := m.LiveCount(); got != 0 {
		t.Fatalf("LiveCount=%d after ReleaseAll, want 0", got)
	}
	if m.CameraOn() {
		t.Fatalf("camera still on after ReleaseAll")
	}
	m.ReleaseAll()
}

func TestManager_DeviceErrorsAreTyped(t *testing.T) {
	m := NewManager(&fakeDevice{videoErr: errors.New("permission denied"), audioErr: errors.New("no mic")}, nil)
	_, err := m.AcquireVideo(context.Background())
	if !core.IsType(err, core.ErrDeviceUnavailable) {
		t.Fatalf("video err=%v, want device_unavailable", err)
	}
	if m.CameraOn() {
		t.Fatalf("camera on after failed acquire")
	}
	_, err = m.AcquireAudio(context.Background())
	if !core.IsType(err, core.ErrDeviceUnavailable) {
		t.Fatalf("audio err=%v, want device_unavailable", err)
	}
	if got := m.LiveCount(); got != 0 {
		t.Fatalf("LiveCount=%d, want 0", got)
	}
}

func TestManager_NilDevice(t *testing.T) {
	m := NewManager(nil, nil)
	if _, err := m.AcquireVideo(context.Background()); !core.IsType(err, core.ErrDeviceUnavailable) {
		t.Fatalf("err=%v, want device_unavailable", err)
	}
}
