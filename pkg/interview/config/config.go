// Package config loads interview settings from defaults, an optional YAML
// file and INTERVIEW_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/interview/media"
	"github.com/vango-go/vai-interview/pkg/interview/session"
	"github.com/vango-go/vai-interview/pkg/interview/telemetry"
)

const EnvPrefix = "INTERVIEW"

type Config struct {
	Backend   BackendConfig   `mapstructure:"backend" yaml:"backend"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Interview InterviewConfig `mapstructure:"interview" yaml:"interview"`
	Media     MediaConfig     `mapstructure:"media" yaml:"media"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type TelemetryConfig struct {
	// URL of the confidence scorer. Empty disables live scoring.
	URL               string        `mapstructure:"url" yaml:"url"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay" yaml:"max_reconnect_delay"`
	// MaxAttempts of 0 never abandons the scorer.
	MaxAttempts   int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	FrameInterval time.Duration `mapstructure:"frame_interval" yaml:"frame_interval"`
	FrameMaxWidth int           `mapstructure:"frame_max_width" yaml:"frame_max_width"`
	JPEGQuality   int           `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

type InterviewConfig struct {
	TotalQuestions int           `mapstructure:"total_questions" yaml:"total_questions"`
	Duration       time.Duration `mapstructure:"duration" yaml:"duration"`
	PerQuestion    time.Duration `mapstructure:"per_question" yaml:"per_question"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
}

type MediaConfig struct {
	FFmpeg      string   `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	VideoDevice string   `mapstructure:"video_device" yaml:"video_device"`
	AudioDevice string   `mapstructure:"audio_device" yaml:"audio_device"`
	Codecs      []string `mapstructure:"codecs" yaml:"codecs"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.timeout", 30*time.Second)

	v.SetDefault("telemetry.url", "ws://127.0.0.1:8000/face-confidence")
	v.SetDefault("telemetry.reconnect_delay", telemetry.DefaultReconnectDelay)
	v.SetDefault("telemetry.max_reconnect_delay", telemetry.DefaultMaxReconnectDelay)
	v.SetDefault("telemetry.max_attempts", telemetry.DefaultMaxAttempts)
	v.SetDefault("telemetry.frame_interval", telemetry.DefaultFrameInterval)
	v.SetDefault("telemetry.frame_max_width", telemetry.DefaultFrameMaxWidth)
	v.SetDefault("telemetry.jpeg_quality", telemetry.DefaultJPEGQuality)

	v.SetDefault("store.dsn", "sqlite://interview-state.db")

	v.SetDefault("interview.total_questions", 0)
	v.SetDefault("interview.duration", time.Duration(0))
	v.SetDefault("interview.per_question", session.DefaultPerQuestion)
	v.SetDefault("interview.drain_timeout", 10*time.Second)

	v.SetDefault("media.ffmpeg", "ffmpeg")
	v.SetDefault("media.video_device", "")
	v.SetDefault("media.audio_device", "")
	codecs := make([]string, 0, 3)
	for _, c := range media.DefaultPreferences() {
		codecs = append(codecs, c.Name)
	}
	v.SetDefault("media.codecs", codecs)

	v.SetDefault("log.level", "info")
}

// Load reads configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := checkURL("backend.base_url", c.Backend.BaseURL, "http", "https"); err != nil {
		return err
	}
	if c.Telemetry.URL != "" {
		if err := checkURL("telemetry.url", c.Telemetry.URL, "ws", "wss"); err != nil {
			return err
		}
	}

	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"backend.timeout", c.Backend.Timeout},
		{"telemetry.reconnect_delay", c.Telemetry.ReconnectDelay},
		{"telemetry.max_reconnect_delay", c.Telemetry.MaxReconnectDelay},
		{"telemetry.frame_interval", c.Telemetry.FrameInterval},
		{"interview.per_question", c.Interview.PerQuestion},
		{"interview.drain_timeout", c.Interview.DrainTimeout},
	} {
		if d.val <= 0 {
			return invalid(d.key, "must be a positive duration")
		}
	}
	if c.Telemetry.MaxReconnectDelay < c.Telemetry.ReconnectDelay {
		return invalid("telemetry.max_reconnect_delay", "must not be shorter than telemetry.reconnect_delay")
	}
	if c.Telemetry.MaxAttempts < 0 {
		return invalid("telemetry.max_attempts", "must not be negative")
	}
	if c.Telemetry.FrameMaxWidth <= 0 {
		return invalid("telemetry.frame_max_width", "must be positive")
	}
	if c.Telemetry.JPEGQuality < 1 || c.Telemetry.JPEGQuality > 100 {
		return invalid("telemetry.jpeg_quality", "must be between 1 and 100")
	}
	if c.Interview.TotalQuestions < 0 {
		return invalid("interview.total_questions", "must not be negative")
	}
	if c.Interview.Duration < 0 {
		return invalid("interview.duration", "must not be negative")
	}
	if c.Store.DSN == "" {
		return invalid("store.dsn", "must not be empty")
	}
	if _, err := c.Codecs(); err != nil {
		return err
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

func checkURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return invalid(key, err.Error())
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) && u.Host != "" {
			return nil
		}
	}
	return invalid(key, fmt.Sprintf("must be an absolute %s URL", strings.Join(schemes, " or ")))
}

func invalid(key, msg string) error {
	return core.NewInvalidRequestErrorWithParam(key+" "+msg, key)
}

// Codecs resolves the configured codec preference list.
func (c *Config) Codecs() ([]media.Codec, error) {
	if len(c.Media.Codecs) == 0 {
		return media.DefaultPreferences(), nil
	}
	out := make([]media.Codec, 0, len(c.Media.Codecs))
	for _, name := range c.Media.Codecs {
		codec, ok := media.CodecByName(strings.TrimSpace(name))
		if !ok {
			return nil, invalid("media.codecs", fmt.Sprintf("unknown codec %q", name))
		}
		out = append(out, codec)
	}
	return out, nil
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, invalid("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
	}
	return level, nil
}

func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		URL:               c.Telemetry.URL,
		ReconnectDelay:    c.Telemetry.ReconnectDelay,
		MaxReconnectDelay: c.Telemetry.MaxReconnectDelay,
		MaxAttempts:       c.Telemetry.MaxAttempts,
	}
}

// SessionConfig maps the settings onto a session controller config.
func (c *Config) SessionConfig() (session.Config, error) {
	codecs, err := c.Codecs()
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		TotalQuestions: c.Interview.TotalQuestions,
		Duration:       c.Interview.Duration,
		PerQuestion:    c.Interview.PerQuestion,
		Codecs:         codecs,
		DrainTimeout:   c.Interview.DrainTimeout,
		Telemetry:      c.TelemetryConfig(),
		FrameInterval:  c.Telemetry.FrameInterval,
		FrameMaxWidth:  c.Telemetry.FrameMaxWidth,
		JPEGQuality:    c.Telemetry.JPEGQuality,
	}, nil
}

func (c *Config) FFmpegConfig() media.FFmpegConfig {
	return media.FFmpegConfig{
		Binary:      c.Media.FFmpeg,
		VideoDevice: c.Media.VideoDevice,
		AudioDevice: c.Media.AudioDevice,
	}
}
