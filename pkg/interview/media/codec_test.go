package media

import (
	"testing"

	"github.com/vango-go/vai-interview/pkg/core"
)

func TestNegotiate_PicksFirstSupported(t *testing.T) {
	a := &fakeAudio{supported: map[string]bool{"ogg-opus": true, "mp4-aac": true}, def: CodecWAV}
	got, err := Negotiate(a, DefaultPreferences(), nil)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if got.Name != "ogg-opus" {
		t.Fatalf("codec=%q, want ogg-opus", got.Name)
	}
}

func TestNegotiate_PreferenceOrderWins(t *testing.T) {
	a := &fakeAudio{supported: map[string]bool{"webm-opus": true, "ogg-opus": true}, def: CodecWAV}
	got, err := Negotiate(a, DefaultPreferences(), nil)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if got.Name != "webm-opus" {
		t.Fatalf("codec=%q, want webm-opus", got.Name)
	}
}

func TestNegotiate_FallsBackToDefault(t *testing.T) {
	a := &fakeAudio{supported: map[string]bool{}, def: CodecWAV}
	got, err := Negotiate(a, DefaultPreferences(), nil)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if got.Name != CodecWAV.Name {
		t.Fatalf("codec=%q, want %q", got.Name, CodecWAV.Name)
	}
}

func TestNegotiate_NoDefault(t *testing.T) {
	a := &fakeAudio{supported: map[string]bool{}}
	if _, err := Negotiate(a, DefaultPreferences(), nil); !core.IsType(err, core.ErrCodecUnsupported) {
		t.Fatalf("err=%v, want codec_unsupported", err)
	}
}

func TestCodec_ContentTypeAndFilename(t *testing.T) {
	if got := CodecWebMOpus.ContentType(); got != "audio/webm" {
		t.Fatalf("ContentType=%q", got)
	}
	if got := CodecWebMOpus.Filename(); got != "answer.webm" {
		t.Fatalf("Filename=%q", got)
	}
	if got := CodecMP4AAC.Filename(); got != "answer.m4a" {
		t.Fatalf("Filename=%q", got)
	}
}

func TestCodecByName(t *testing.T) {
	c, ok := CodecByName(" WebM-Opus ")
	if !ok || c.Name != "webm-opus" {
		t.Fatalf("CodecByName=%+v ok=%v", c, ok)
	}
	if _, ok := CodecByName("flac"); ok {
		t.Fatalf("unexpected codec for flac")
	}
}
