package media

import (
	"log/slog"
	"strings"

	"github.com/vango-go/vai-interview/pkg/core"
)

// Codec describes an audio encoding and how ffmpeg produces it on a pipe.
type Codec struct {
	Name      string
	MIMEType  string
	Extension string
	Muxer     string
	Encoder   string
	ExtraArgs []string
}

// ContentType returns the MIME type without codec parameters.
func (c Codec) ContentType() string {
	base, _, _ := strings.Cut(c.MIMEType, ";")
	return strings.TrimSpace(base)
}

// Filename returns the upload filename for an answer in this codec.
func (c Codec) Filename() string {
	return "answer." + c.Extension
}

var (
	CodecWebMOpus = Codec{Name: "webm-opus", MIMEType: "audio/webm;codecs=opus", Extension: "webm", Muxer: "webm", Encoder: "libopus"}
	CodecOggOpus  = Codec{Name: "ogg-opus", MIMEType: "audio/ogg;codecs=opus", Extension: "ogg", Muxer: "ogg", Encoder: "libopus"}
	CodecMP4AAC   = Codec{Name: "mp4-aac", MIMEType: "audio/mp4", Extension: "m4a", Muxer: "mp4", Encoder: "aac", ExtraArgs: []string{"-movflags", "frag_keyframe+empty_moov"}}
	CodecWAV      = Codec{Name: "wav-pcm", MIMEType: "audio/wav", Extension: "wav", Muxer: "wav", Encoder: "pcm_s16le"}
)

var knownCodecs = []Codec{CodecWebMOpus, CodecOggOpus, CodecMP4AAC, CodecWAV}

// CodecByName looks up a known codec.
func CodecByName(name string) (Codec, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, c := range knownCodecs {
		if c.Name == name {
			return c, true
		}
	}
	return Codec{}, false
}

// DefaultPreferences is the ordered fallback list tried before the runtime default.
func DefaultPreferences() []Codec {
	return []Codec{CodecWebMOpus, CodecOggOpus, CodecMP4AAC}
}

// CodecSupport is the part of an AudioStream used for negotiation.
type CodecSupport interface {
	Supports(codec Codec) bool
	DefaultCodec() Codec
}

// Negotiate returns the first preferred codec the stream supports, falling
// back to the stream's default. The result depends only on prefs and the
// stream's answers.
func Negotiate(s CodecSupport, prefs []Codec, logger *slog.Logger) (Codec, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, c := range prefs {
		if s.Supports(c) {
			logger.Info("audio codec negotiated", "codec", c.Name, "mime", c.MIMEType)
			return c, nil
		}
		logger.Debug("audio codec unsupported", "codec", c.Name)
	}
	def := s.DefaultCodec()
	if def.Name == "" {
		return Codec{}, core.NewCodecUnsupportedError("no preferred codec is supported and the runtime has no default")
	}
	logger.Info("audio codec fallback to runtime default", "codec", def.Name, "mime", def.MIMEType)
	return def, nil
}
