package media

import (
	"strings"
	"testing"
)

func TestVideoCaptureArgs_PerPlatform(t *testing.T) {
	cfg := FFmpegConfig{GOOS: "linux"}.withDefaults()
	args, err := videoCaptureArgs(cfg)
	if err != nil {
		t.Fatalf("linux: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-f v4l2 -i /dev/video0") {
		t.Fatalf("linux args=%q", joined)
	}
	if !strings.Contains(joined, "scale=640:480") || !strings.HasSuffix(joined, "-f rawvideo -") {
		t.Fatalf("linux args=%q", joined)
	}

	cfg = FFmpegConfig{GOOS: "darwin", VideoDevice: "1"}.withDefaults()
	args, err = videoCaptureArgs(cfg)
	if err != nil {
		t.Fatalf("darwin: %v", err)
	}
	if joined := strings.Join(args, " "); !strings.Contains(joined, "-f avfoundation -framerate 30 -i 1") {
		t.Fatalf("darwin args=%q", joined)
	}

	if _, err := videoCaptureArgs(FFmpegConfig{GOOS: "windows"}.withDefaults()); err == nil {
		t.Fatalf("expected error for windows")
	}
}

func TestAudioRecordArgs(t *testing.T) {
	cfg := FFmpegConfig{GOOS: "linux"}.withDefaults()
	args, err := audioRecordArgs(cfg, CodecMP4AAC)
	if err != nil {
		t.Fatalf("audioRecordArgs: %v", err)
	}
	joined := strings.Join(args, " ")
	want := "-f pulse -i default -ac 1 -ar 48000 -c:a aac -movflags frag_keyframe+empty_moov -f mp4 -"
	if !strings.HasSuffix(joined, want) {
		t.Fatalf("args=%q, want suffix %q", joined, want)
	}

	cfg = FFmpegConfig{GOOS: "darwin"}.withDefaults()
	args, err = audioRecordArgs(cfg, CodecWebMOpus)
	if err != nil {
		t.Fatalf("audioRecordArgs: %v", err)
	}
	if joined := strings.Join(args, " "); !strings.Contains(joined, "-f avfoundation -i :0") || !strings.Contains(joined, "-c:a libopus") {
		t.Fatalf("darwin args=%q", joined)
	}
}

func TestParseFFmpegList(t *testing.T) {
	out := []byte(`Encoders:
 V..... = Video
 A..... = Audio
 ------
 A....D aac                  AAC (Advanced Audio Coding)
 A....D libopus              libopus Opus
 A....D pcm_s16le            PCM signed 16-bit little-endian
`)
	names := parseFFmpegList(out)
	for _, n := range []string{"aac", "libopus", "pcm_s16le"} {
		if !names[n] {
			t.Fatalf("missing %q in %v", n, names)
		}
	}
	if names["="] || names["Video"] {
		t.Fatalf("legend leaked into names: %v", names)
	}

	muxers := parseFFmpegList([]byte(" Muxers:\n --\n  E mp4             MP4\n  E matroska,webm   Matroska\n"))
	if !muxers["webm"] || !muxers["matroska"] || !muxers["mp4"] {
		t.Fatalf("muxers=%v", muxers)
	}
}

func TestFFmpegConfigDefaults(t *testing.T) {
	cfg := FFmpegConfig{}.withDefaults()
	if cfg.Binary != "ffmpeg" || cfg.FrameWidth != 640 || cfg.FrameHeight != 480 || cfg.SampleRateHz != 48000 {
		t.Fatalf("defaults=%+v", cfg)
	}
	if cfg.GOOS == "" || cfg.StartTimeout <= 0 {
		t.Fatalf("defaults=%+v", cfg)
	}
}
