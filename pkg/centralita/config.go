package centralita

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mzaldivar/centralita/pkg/segmenter"
	"github.com/mzaldivar/centralita/pkg/session"
)

type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Session     SessionConfig    `mapstructure:"session"`
	Segmenter   SegmenterConfig  `mapstructure:"segmenter"`
	Vendors     VendorsConfig    `mapstructure:"vendors"`
	Transports  TransportsConfig `mapstructure:"transports"`
	Storage     StorageConfig    `mapstructure:"storage"`
	Synthesis   SynthesisConfig  `mapstructure:"synthesis"`
	Transcripts SinkConfig       `mapstructure:"transcripts"`
	Privacy     PrivacyConfig    `mapstructure:"privacy"`
	Metrics     MetricsConfig    `mapstructure:"metrics"`
}

type SessionConfig struct {
	Mode             string `mapstructure:"mode"`
	SampleRate       int    `mapstructure:"sample_rate"`
	TargetRate       int    `mapstructure:"target_rate"`
	Condition        bool   `mapstructure:"condition"`
	QueueSize        int    `mapstructure:"queue_size"`
	SegmentTimeoutMS int    `mapstructure:"segment_timeout_ms"`
}

type SegmenterConfig struct {
	Policy          string  `mapstructure:"policy"`
	ChunkSeconds    float64 `mapstructure:"chunk_seconds"`
	EnergyThreshold float64 `mapstructure:"energy_threshold"`
	MaxSilenceMS    int     `mapstructure:"max_silence_ms"`
	MaxSegmentMS    int     `mapstructure:"max_segment_ms"`
	MinSegmentMS    int     `mapstructure:"min_segment_ms"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type StorageConfig struct {
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	Endpoint      string `mapstructure:"endpoint"`
	Region        string `mapstructure:"region"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
}

type SynthesisConfig struct {
	Voice  string `mapstructure:"voice"`
	Model  string `mapstructure:"model"`
	Format string `mapstructure:"format"`
}

type SinkConfig struct {
	Provider string `mapstructure:"provider"`
	URL      string `mapstructure:"url"`
	APIKey   string `mapstructure:"api_key"`
	Table    string `mapstructure:"table"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type MetricsConfig struct {
	JSONLPath string `mapstructure:"jsonl_path"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("session.mode", "batch")
	v.SetDefault("session.sample_rate", 8000)
	v.SetDefault("session.target_rate", 0)
	v.SetDefault("session.condition", false)
	v.SetDefault("session.queue_size", 8)
	v.SetDefault("session.segment_timeout_ms", 30000)
	v.SetDefault("segmenter.policy", "fixed")
	v.SetDefault("segmenter.chunk_seconds", 5)
	v.SetDefault("segmenter.energy_threshold", 500)
	v.SetDefault("segmenter.max_silence_ms", 700)
	v.SetDefault("segmenter.max_segment_ms", 15000)
	v.SetDefault("segmenter.min_segment_ms", 0)
	v.SetDefault("storage.prefix", "audio-cache")
	v.SetDefault("storage.region", "auto")
	v.SetDefault("synthesis.voice", "nova")
	v.SetDefault("synthesis.model", "tts-1")
	v.SetDefault("synthesis.format", "mp3")
	v.SetDefault("transcripts.provider", "none")
	v.SetDefault("transcripts.table", "transcripts")
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("metrics.jsonl_path", "")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transports.Provider) == "" {
		return fmt.Errorf("transports.provider is required")
	}
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		return fmt.Errorf("vendors.stt.provider is required")
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required")
	}
	switch session.Mode(strings.ToLower(c.Session.Mode)) {
	case session.ModeBatch, session.ModeStreaming:
	default:
		return fmt.Errorf("session.mode must be batch or streaming, got %q", c.Session.Mode)
	}
	switch segmenter.PolicyKind(strings.ToLower(c.Segmenter.Policy)) {
	case segmenter.PolicyFixed, segmenter.PolicyEnergy:
	default:
		return fmt.Errorf("segmenter.policy must be fixed or energy, got %q", c.Segmenter.Policy)
	}
	return nil
}

// SessionSettings maps the loaded config onto the session layer.
func (c *Config) SessionSettings() session.Config {
	return session.Config{
		Mode:           session.Mode(strings.ToLower(c.Session.Mode)),
		SampleRate:     c.Session.SampleRate,
		TargetRate:     c.Session.TargetRate,
		Condition:      c.Session.Condition,
		QueueSize:      c.Session.QueueSize,
		SegmentTimeout: time.Duration(c.Session.SegmentTimeoutMS) * time.Millisecond,
		Segmenter: segmenter.Config{
			SampleRate:      c.Session.SampleRate,
			Policy:          segmenter.PolicyKind(strings.ToLower(c.Segmenter.Policy)),
			ChunkSeconds:    c.Segmenter.ChunkSeconds,
			EnergyThreshold: c.Segmenter.EnergyThreshold,
			MaxSilence:      time.Duration(c.Segmenter.MaxSilenceMS) * time.Millisecond,
			MaxSegment:      time.Duration(c.Segmenter.MaxSegmentMS) * time.Millisecond,
			MinSegment:      time.Duration(c.Segmenter.MinSegmentMS) * time.Millisecond,
		},
	}
}

func expandEnvStrings(cfg *Config) {
	cfg.Storage.Bucket = os.ExpandEnv(cfg.Storage.Bucket)
	cfg.Storage.Prefix = os.ExpandEnv(cfg.Storage.Prefix)
	cfg.Storage.PublicBaseURL = os.ExpandEnv(cfg.Storage.PublicBaseURL)
	cfg.Storage.Endpoint = os.ExpandEnv(cfg.Storage.Endpoint)
	cfg.Storage.AccessKey = os.ExpandEnv(cfg.Storage.AccessKey)
	cfg.Storage.SecretKey = os.ExpandEnv(cfg.Storage.SecretKey)
	cfg.Transcripts.URL = os.ExpandEnv(cfg.Transcripts.URL)
	cfg.Transcripts.APIKey = os.ExpandEnv(cfg.Transcripts.APIKey)
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}
