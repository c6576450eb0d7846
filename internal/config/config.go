// Package config holds operator-level configuration for a voicegate process.
//
// This is infrastructure config set by whoever deploys the service: data
// directory, listen port, upstream endpoints and API keys, model candidate
// order, audio limits. It is distinct from the per-environment RuntimeConfig
// (prompts, tool flags) that lives in the session store and is edited over
// the HTTP API while the service runs.
//
// Every key maps to an env var with the VOICEGATE_ prefix
// (e.g. "groq_api_key" → VOICEGATE_GROQ_API_KEY) and to a YAML field in
// voicegate.config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Viper keys.
const (
	KeyDataDir          = "data_dir"
	KeyPort             = "port"
	KeyGroqAPIKey       = "groq_api_key"
	KeyGroqBaseURL      = "groq_base_url"
	KeyDeepgramAPIKey   = "deepgram_api_key"
	KeyDeepgramBaseURL  = "deepgram_base_url"
	KeyModelCandidates  = "model_candidates"
	KeySTTModel         = "stt_model"
	KeyTTSModel         = "tts_model"
	KeyDefaultEnvKey    = "default_env_key"
	KeyMaxAudioBytes    = "max_audio_bytes"
	KeyMinAudioBytes    = "min_audio_bytes"
	KeyTurnsPerMinute   = "turns_per_minute"
	KeySessionIdleMin   = "session_idle_minutes"
	KeySweepSchedule    = "sweep_schedule"
	KeyMaxToolLoopSteps = "max_tool_loop_steps"
)

// Defaults. Audio ceilings mirror the telephony front-end: anything under
// 1 KiB is silence or a truncated upload, anything over 10 MiB is rejected
// before it reaches the transcription upstream.
const (
	DefaultPort             = 8000
	DefaultGroqBaseURL      = "https://api.groq.com/openai/v1"
	DefaultDeepgramBaseURL  = "https://api.deepgram.com"
	DefaultSTTModel         = "distil-whisper-large-v3-en"
	DefaultTTSModel         = "aura-asteria-en"
	DefaultEnvKey           = "dev"
	DefaultMaxAudioBytes    = 10 << 20
	DefaultMinAudioBytes    = 1 << 10
	DefaultTurnsPerMinute   = 30
	DefaultSessionIdleMin   = 30
	DefaultSweepSchedule    = "*/5 * * * *"
	DefaultMaxToolLoopSteps = 8
)

// DefaultModelCandidates is the ordered reasoning-model fallback list.
// The head is the preferred model; the rest absorb rate-limit exhaustion.
var DefaultModelCandidates = []string{
	"llama-3.3-70b-versatile",
	"llama-3.1-8b-instant",
	"gemma2-9b-it",
}

// Config holds resolved operator-level configuration.
type Config struct {
	DataDir          string
	Port             int
	GroqAPIKey       string
	GroqBaseURL      string
	DeepgramAPIKey   string
	DeepgramBaseURL  string
	ModelCandidates  []string
	STTModel         string
	TTSModel         string
	DefaultEnvKey    string
	MaxAudioBytes    int64
	MinAudioBytes    int64
	TurnsPerMinute   int
	SessionIdleMin   int
	SweepSchedule    string
	MaxToolLoopSteps int
}

// SessionsDBPath returns the full path to the session SQLite database.
func (c *Config) SessionsDBPath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

func init() {
	viper.SetEnvPrefix("VOICEGATE")
	viper.AutomaticEnv()
	viper.SetDefault(KeyPort, DefaultPort)
	viper.SetDefault(KeyGroqBaseURL, DefaultGroqBaseURL)
	viper.SetDefault(KeyDeepgramBaseURL, DefaultDeepgramBaseURL)
	viper.SetDefault(KeySTTModel, DefaultSTTModel)
	viper.SetDefault(KeyTTSModel, DefaultTTSModel)
	viper.SetDefault(KeyDefaultEnvKey, DefaultEnvKey)
	viper.SetDefault(KeyMaxAudioBytes, DefaultMaxAudioBytes)
	viper.SetDefault(KeyMinAudioBytes, DefaultMinAudioBytes)
	viper.SetDefault(KeyTurnsPerMinute, DefaultTurnsPerMinute)
	viper.SetDefault(KeySessionIdleMin, DefaultSessionIdleMin)
	viper.SetDefault(KeySweepSchedule, DefaultSweepSchedule)
	viper.SetDefault(KeyMaxToolLoopSteps, DefaultMaxToolLoopSteps)
}

// Load reads configuration from Viper (which merges env vars, config file,
// and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:          resolveDataDir(),
		Port:             viper.GetInt(KeyPort),
		GroqAPIKey:       viper.GetString(KeyGroqAPIKey),
		GroqBaseURL:      viper.GetString(KeyGroqBaseURL),
		DeepgramAPIKey:   viper.GetString(KeyDeepgramAPIKey),
		DeepgramBaseURL:  viper.GetString(KeyDeepgramBaseURL),
		ModelCandidates:  viper.GetStringSlice(KeyModelCandidates),
		STTModel:         viper.GetString(KeySTTModel),
		TTSModel:         viper.GetString(KeyTTSModel),
		DefaultEnvKey:    viper.GetString(KeyDefaultEnvKey),
		MaxAudioBytes:    viper.GetInt64(KeyMaxAudioBytes),
		MinAudioBytes:    viper.GetInt64(KeyMinAudioBytes),
		TurnsPerMinute:   viper.GetInt(KeyTurnsPerMinute),
		SessionIdleMin:   viper.GetInt(KeySessionIdleMin),
		SweepSchedule:    viper.GetString(KeySweepSchedule),
		MaxToolLoopSteps: viper.GetInt(KeyMaxToolLoopSteps),
	}

	if len(cfg.ModelCandidates) == 0 {
		cfg.ModelCandidates = append([]string(nil), DefaultModelCandidates...)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".voicegate"
	}
	return filepath.Join(home, ".voicegate")
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", c.Port)
	}
	if c.MinAudioBytes <= 0 || c.MaxAudioBytes <= c.MinAudioBytes {
		return fmt.Errorf("audio limits must satisfy 0 < min (%d) < max (%d)", c.MinAudioBytes, c.MaxAudioBytes)
	}
	if c.MaxToolLoopSteps < 1 {
		return fmt.Errorf("max_tool_loop_steps must be at least 1")
	}
	return nil
}
