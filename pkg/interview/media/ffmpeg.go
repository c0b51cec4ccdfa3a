package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultFrameWidth   = 640
	defaultFrameHeight  = 480
	defaultFrameRate    = 5
	defaultSampleRateHz = 48000
	defaultStartTimeout = 5 * time.Second
	encoderChunkBytes   = 4096
)

// FFmpegConfig configures the ffmpeg-backed Device.
type FFmpegConfig struct {
	Binary       string
	VideoDevice  string
	AudioDevice  string
	FrameWidth   int
	FrameHeight  int
	FrameRate    int
	SampleRateHz int
	StartTimeout time.Duration
	GOOS         string
}

func (c FFmpegConfig) withDefaults() FFmpegConfig {
	if strings.TrimSpace(c.Binary) == "" {
		c.Binary = "ffmpeg"
	}
	if c.FrameWidth <= 0 {
		c.FrameWidth = defaultFrameWidth
	}
	if c.FrameHeight <= 0 {
		c.FrameHeight = defaultFrameHeight
	}
	if c.FrameRate <= 0 {
		c.FrameRate = defaultFrameRate
	}
	if c.SampleRateHz <= 0 {
		c.SampleRateHz = defaultSampleRateHz
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = defaultStartTimeout
	}
	if c.GOOS == "" {
		c.GOOS = runtime.GOOS
	}
	return c
}

// FFmpegDevice captures the camera and microphone through an ffmpeg subprocess.
type FFmpegDevice struct {
	cfg    FFmpegConfig
	logger *slog.Logger

	probeOnce sync.Once
	encoders  map[string]bool
	muxers    map[string]bool
	probeErr  error
}

func NewFFmpegDevice(cfg FFmpegConfig, logger *slog.Logger) *FFmpegDevice {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegDevice{cfg: cfg.withDefaults(), logger: logger}
}

func (d *FFmpegDevice) lookPath() error {
	if _, err := exec.LookPath(d.cfg.Binary); err != nil {
		return fmt.Errorf("%s is required for device capture (install ffmpeg and ensure it is in PATH): %w", d.cfg.Binary, err)
	}
	return nil
}

// OpenVideo starts a raw RGB capture and waits for the first frame.
func (d *FFmpegDevice) OpenVideo(ctx context.Context) (VideoStream, error) {
	if err := d.lookPath(); err != nil {
		return nil, err
	}
	args, err := videoCaptureArgs(d.cfg)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(d.cfg.Binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg video capture: %w", err)
	}

	v := &ffmpegVideo{
		id:     "video-" + uuid.NewString(),
		cmd:    cmd,
		width:  d.cfg.FrameWidth,
		height: d.cfg.FrameHeight,
		first:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go v.readLoop(stdout)

	timer := time.NewTimer(d.cfg.StartTimeout)
	defer timer.Stop()
	select {
	case <-v.first:
		return v, nil
	case <-v.done:
		_ = v.Close()
		return nil, fmt.Errorf("camera capture exited: %s", strings.TrimSpace(stderr.String()))
	case <-timer.C:
		_ = v.Close()
		return nil, errors.New("camera produced no frame before timeout")
	case <-ctx.Done():
		_ = v.Close()
		return nil, ctx.Err()
	}
}

// OpenAudio probes the microphone with a short capture.
func (d *FFmpegDevice) OpenAudio(ctx context.Context) (AudioStream, error) {
	if err := d.lookPath(); err != nil {
		return nil, err
	}
	input, err := audioInputArgs(d.cfg)
	if err != nil {
		return nil, err
	}
	probeCtx, cancel := context.WithTimeout(ctx, d.cfg.StartTimeout)
	defer cancel()
	args := append([]string{"-hide_banner", "-loglevel", "error"}, input...)
	args = append(args, "-t", "0.1", "-f", "null", "-")
	if out, err := exec.CommandContext(probeCtx, d.cfg.Binary, args...).CombinedOutput(); err != nil {
		return nil, fmt.Errorf("microphone probe failed: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return &ffmpegAudio{id: "audio-" + uuid.NewString(), device: d}, nil
}

func (d *FFmpegDevice) probe() {
	d.probeOnce.Do(func() {
		enc, err := exec.Command(d.cfg.Binary, "-hide_banner", "-encoders").Output()
		if err != nil {
			d.probeErr = fmt.Errorf("list ffmpeg encoders: %w", err)
			return
		}
		mux, err := exec.Command(d.cfg.Binary, "-hide_banner", "-muxers").Output()
		if err != nil {
			d.probeErr = fmt.Errorf("list ffmpeg muxers: %w", err)
			return
		}
		d.encoders = parseFFmpegList(enc)
		d.muxers = parseFFmpegList(mux)
	})
}

func (d *FFmpegDevice) supports(c Codec) bool {
	d.probe()
	if d.probeErr != nil {
		d.logger.Debug("ffmpeg capability probe failed", "error", d.probeErr)
		return false
	}
	return d.encoders[c.Encoder] && d.muxers[c.Muxer]
}

// parseFFmpegList extracts names from `ffmpeg -encoders` / `ffmpeg -muxers`
// output: a legend, a dashed separator, then "<flags> <name> <description>" rows.
func parseFFmpegList(out []byte) map[string]bool {
	names := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	inBody := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !inBody {
			if strings.HasPrefix(line, "--") {
				inBody = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		for _, name := range strings.Split(fields[1], ",") {
			if name != "" {
				names[name] = true
			}
		}
	}
	return names
}

func videoCaptureArgs(cfg FFmpegConfig) ([]string, error) {
	var input []string
	switch cfg.GOOS {
	case "darwin":
		dev := cfg.VideoDevice
		if dev == "" {
			dev = "0"
		}
		input = []string{"-f", "avfoundation", "-framerate", "30", "-i", dev}
	case "linux":
		dev := cfg.VideoDevice
		if dev == "" {
			dev = "/dev/video0"
		}
		input = []string{"-f", "v4l2", "-i", dev}
	default:
		return nil, fmt.Errorf("camera capture is not implemented for %s; supported platforms: darwin, linux", cfg.GOOS)
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	args = append(args,
		"-vf", fmt.Sprintf("scale=%d:%d", cfg.FrameWidth, cfg.FrameHeight),
		"-r", strconv.Itoa(cfg.FrameRate),
		"-pix_fmt", "rgba",
		"-f", "rawvideo", "-",
	)
	return args, nil
}

func audioInputArgs(cfg FFmpegConfig) ([]string, error) {
	switch cfg.GOOS {
	case "darwin":
		dev := cfg.AudioDevice
		if dev == "" {
			dev = ":0"
		}
		return []string{"-f", "avfoundation", "-i", dev}, nil
	case "linux":
		dev := cfg.AudioDevice
		if dev == "" {
			dev = "default"
		}
		return []string{"-f", "pulse", "-i", dev}, nil
	default:
		return nil, fmt.Errorf("microphone capture is not implemented for %s; supported platforms: darwin, linux", cfg.GOOS)
	}
}

func audioRecordArgs(cfg FFmpegConfig, codec Codec) ([]string, error) {
	input, err := audioInputArgs(cfg)
	if err != nil {
		return nil, err
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	args = append(args, "-ac", "1", "-ar", strconv.Itoa(cfg.SampleRateHz), "-c:a", codec.Encoder)
	args = append(args, codec.ExtraArgs...)
	args = append(args, "-f", codec.Muxer, "-")
	return args, nil
}

type ffmpegVideo struct {
	id            string
	cmd           *exec.Cmd
	width, height int

	mu     sync.Mutex
	latest *image.RGBA

	firstOnce sync.Once
	first     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (v *ffmpegVideo) ID() string { return v.id }
func (v *ffmpegVideo) Kind() Kind { return KindVideo }

func (v *ffmpegVideo) readLoop(r io.Reader) {
	defer close(v.done)
	frameBytes := v.width * v.height * 4
	for {
		buf := make([]byte, frameBytes)
		if _, err := io.ReadFull(r, buf); err != nil {
			return
		}
		img := &image.RGBA{Pix: buf, Stride: v.width * 4, Rect: image.Rect(0, 0, v.width, v.height)}
		v.mu.Lock()
		v.latest = img
		v.mu.Unlock()
		v.firstOnce.Do(func() { close(v.first) })
	}
}

// Snapshot returns the most recent frame.
func (v *ffmpegVideo) Snapshot() (image.Image, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.latest == nil {
		return nil, errors.New("no frame captured yet")
	}
	return v.latest, nil
}

func (v *ffmpegVideo) Close() error {
	v.closeOnce.Do(func() {
		if v.cmd != nil && v.cmd.Process != nil {
			_ = v.cmd.Process.Kill()
			_ = v.cmd.Wait()
		}
	})
	return nil
}

type ffmpegAudio struct {
	id     string
	device *FFmpegDevice
}

func (a *ffmpegAudio) ID() string { return a.id }
func (a *ffmpegAudio) Kind() Kind { return KindAudio }
func (a *ffmpegAudio) Supports(c Codec) bool { return a.device.supports(c) }
func (a *ffmpegAudio) DefaultCodec() Codec { return CodecWAV }
func (a *ffmpegAudio) Close() error { return nil }

func (a *ffmpegAudio) Record(ctx context.Context, codec Codec) (Encoder, error) {
	args, err := audioRecordArgs(a.device.cfg, codec)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, a.device.cfg.Binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg audio capture: %w", err)
	}
	e := &ffmpegEncoder{
		cmd:    cmd,
		stdin:  stdin,
		chunks: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go e.readLoop(stdout)
	return e, nil
}

type ffmpegEncoder struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	chunks   chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

func (e *ffmpegEncoder) Chunks() <-chan []byte { return e.chunks }

func (e *ffmpegEncoder) readLoop(r io.Reader) {
	defer close(e.done)
	defer close(e.chunks)
	buf := make([]byte, encoderChunkBytes)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			e.chunks <- chunk
		}
		if err != nil {
			return
		}
	}
}

// Stop asks ffmpeg to finish the container ("q" on stdin) and waits for the
// remaining output. ffmpeg is killed if it does not exit in time.
func (e *ffmpegEncoder) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		_, _ = io.WriteString(e.stdin, "q\n")
		_ = e.stdin.Close()
		select {
		case <-e.done:
		case <-time.After(3 * time.Second):
			_ = e.cmd.Process.Kill()
			<-e.done
		}
		if waitErr := e.cmd.Wait(); waitErr != nil {
			var exitErr *exec.ExitError
			if !errors.As(waitErr, &exitErr) {
				err = waitErr
			}
		}
	})
	return err
}
