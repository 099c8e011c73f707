// Package config provides configuration management for clipforge using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort       = 8000
	defaultServerTimeout    = 30 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultChunkDuration    = 4
	defaultWindowSize       = 9
	defaultSlideStep        = 3
	defaultQueueCapacity    = 20
	defaultStageRetries     = 3
	defaultCommentaryFPS    = 1.0
	defaultAudioSampleRate  = 24000
	defaultAudioChunkCap    = 60
	defaultAudioTimeout     = 10 * time.Second
	defaultProbeTimeout     = 30 * time.Second
	defaultLLMTimeout       = 2 * time.Minute
	defaultDetectModel      = "gemini-2.5-flash"
	defaultLiveModel        = "gemini-live-2.5-flash-preview"
	defaultJanitorSchedule  = "0 0 * * * *" // hourly, 6-field cron
	defaultJanitorMaxAge    = 6 * time.Hour
	defaultFormatSelector   = "best[ext=mp4]/best"
	defaultCommentaryPrompt = "Provide engaging sports commentary for this video."
	defaultCommentarySystem = "You are an enthusiastic sports commentator providing live audio commentary."
)

// APIKeyEnv is the environment variable holding the LLM provider API key.
const APIKeyEnv = "GEMINI_API_KEY"

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Commentary CommentaryConfig `mapstructure:"commentary"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	Janitor    JanitorConfig    `mapstructure:"janitor"`
}

// ServerConfig holds HTTP/WebSocket server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// IngestConfig holds media ingestion configuration.
type IngestConfig struct {
	// ChunkDuration is the length of each base chunk in seconds.
	ChunkDuration int `mapstructure:"chunk_duration"`
	// FormatSelector is passed verbatim to the downloader for VOD sources.
	// Live sources may override it with a live-safe selector.
	FormatSelector string `mapstructure:"format_selector"`
	// CookiesFile is an optional Netscape-format cookies file for the downloader.
	CookiesFile string `mapstructure:"cookies_file"`
	// ExtraArgs are appended to every downloader invocation.
	ExtraArgs []string `mapstructure:"extra_args"`
	// ProbeTimeout bounds the liveness probe.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// PipelineConfig holds sliding-window highlight pipeline configuration.
type PipelineConfig struct {
	// WindowSize is the number of base chunks per analysis window.
	WindowSize int `mapstructure:"window_size"`
	// SlideStep is the number of chunks the window advances on a miss.
	// On a hit the window always advances by WindowSize.
	SlideStep int `mapstructure:"slide_step"`
	// QueueCapacity bounds each consumer queue.
	QueueCapacity int `mapstructure:"queue_capacity"`
	// StageRetries is the per-stage retry budget for malformed LLM replies.
	StageRetries int `mapstructure:"stage_retries"`
	// DebugDir, when set, receives intermediate window videos for inspection.
	DebugDir string `mapstructure:"debug_dir"`
}

// CommentaryConfig holds live commentary pipeline configuration.
type CommentaryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// FPS is the frame-extraction rate fed into the live session.
	FPS float64 `mapstructure:"fps"`
	// AudioSampleRate is the PCM sample rate of the provider's audio output.
	AudioSampleRate int `mapstructure:"audio_sample_rate"`
	// AudioChunkCap is the soft cap on received PCM chunks per window.
	AudioChunkCap int `mapstructure:"audio_chunk_cap"`
	// AudioTimeout is the hard per-window cap on waiting for audio.
	AudioTimeout time.Duration `mapstructure:"audio_timeout"`
	// SystemInstruction steers the live session persona.
	SystemInstruction string `mapstructure:"system_instruction"`
	// Prompt is sent after each window's frames to trigger commentary.
	Prompt string `mapstructure:"prompt"`
}

// LLMConfig holds multimodal provider configuration.
type LLMConfig struct {
	// Model is the request-response model used by the stage chain.
	Model string `mapstructure:"model"`
	// LiveModel is the bidirectional session model used for commentary.
	LiveModel string `mapstructure:"live_model"`
	// Timeout bounds each request-response submission.
	Timeout time.Duration `mapstructure:"timeout"`
}

// ToolsConfig holds external tool binary configuration.
type ToolsConfig struct {
	FFmpegPath  string `mapstructure:"ffmpeg_path"` // empty = resolve from PATH
	FFprobePath string `mapstructure:"ffprobe_path"`
	YtdlpPath   string `mapstructure:"ytdlp_path"`
}

// JanitorConfig holds orphaned scratch directory cleanup configuration.
type JanitorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"` // 6-field cron expression
	MaxAge   time.Duration `mapstructure:"max_age"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with CLIPFORGE_, using underscores for nesting.
// Example: CLIPFORGE_SERVER_PORT=8000.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/clipforge")
		v.AddConfigPath("$HOME/.clipforge")
	}

	v.SetEnvPrefix("CLIPFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Ingest defaults
	v.SetDefault("ingest.chunk_duration", defaultChunkDuration)
	v.SetDefault("ingest.format_selector", defaultFormatSelector)
	v.SetDefault("ingest.cookies_file", "")
	v.SetDefault("ingest.extra_args", []string{})
	v.SetDefault("ingest.probe_timeout", defaultProbeTimeout)

	// Pipeline defaults
	v.SetDefault("pipeline.window_size", defaultWindowSize)
	v.SetDefault("pipeline.slide_step", defaultSlideStep)
	v.SetDefault("pipeline.queue_capacity", defaultQueueCapacity)
	v.SetDefault("pipeline.stage_retries", defaultStageRetries)
	v.SetDefault("pipeline.debug_dir", "")

	// Commentary defaults
	v.SetDefault("commentary.enabled", false)
	v.SetDefault("commentary.fps", defaultCommentaryFPS)
	v.SetDefault("commentary.audio_sample_rate", defaultAudioSampleRate)
	v.SetDefault("commentary.audio_chunk_cap", defaultAudioChunkCap)
	v.SetDefault("commentary.audio_timeout", defaultAudioTimeout)
	v.SetDefault("commentary.system_instruction", defaultCommentarySystem)
	v.SetDefault("commentary.prompt", defaultCommentaryPrompt)

	// LLM defaults
	v.SetDefault("llm.model", defaultDetectModel)
	v.SetDefault("llm.live_model", defaultLiveModel)
	v.SetDefault("llm.timeout", defaultLLMTimeout)

	// Tools defaults
	v.SetDefault("tools.ffmpeg_path", "")
	v.SetDefault("tools.ffprobe_path", "")
	v.SetDefault("tools.ytdlp_path", "")

	// Janitor defaults
	v.SetDefault("janitor.enabled", true)
	v.SetDefault("janitor.schedule", defaultJanitorSchedule)
	v.SetDefault("janitor.max_age", defaultJanitorMaxAge)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Ingest.ChunkDuration < 1 {
		return fmt.Errorf("ingest.chunk_duration must be at least 1 second")
	}
	if c.Pipeline.WindowSize < 1 {
		return fmt.Errorf("pipeline.window_size must be at least 1")
	}
	if c.Pipeline.SlideStep < 1 {
		return fmt.Errorf("pipeline.slide_step must be at least 1")
	}
	if c.Pipeline.SlideStep > c.Pipeline.WindowSize {
		return fmt.Errorf("pipeline.slide_step must not exceed pipeline.window_size")
	}
	if c.Pipeline.QueueCapacity < 1 {
		return fmt.Errorf("pipeline.queue_capacity must be at least 1")
	}
	if c.Pipeline.StageRetries < 1 {
		return fmt.Errorf("pipeline.stage_retries must be at least 1")
	}

	if c.Commentary.FPS <= 0 {
		return fmt.Errorf("commentary.fps must be positive")
	}
	if c.Commentary.AudioSampleRate < 8000 {
		return fmt.Errorf("commentary.audio_sample_rate must be at least 8000")
	}
	if c.Commentary.AudioTimeout <= 0 {
		return fmt.Errorf("commentary.audio_timeout must be positive")
	}

	if c.Ingest.CookiesFile != "" {
		if _, err := os.Stat(c.Ingest.CookiesFile); err != nil {
			return fmt.Errorf("ingest.cookies_file: %w", err)
		}
	}

	return nil
}

// APIKey returns the provider API key from the environment.
func APIKey() string {
	return os.Getenv(APIKeyEnv)
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
