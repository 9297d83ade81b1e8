package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

type Server struct {
	Addr       string `toml:"addr"`
	BaseURL    string `toml:"base_url"`
	APIKey     string `toml:"api_key"`
	CORSOrigin string `toml:"cors_origin"`
}

type Paths struct {
	DataDir   string `toml:"data_dir"`
	OutputDir string `toml:"output_dir"`
}

// Jobs bounds scheduling, request sizes, and retention.
type Jobs struct {
	MaxConcurrent   int    `toml:"max_concurrent"`
	LogTail         int    `toml:"log_tail"`
	MaxSeconds      int    `toml:"max_seconds"`
	MaxFPS          int    `toml:"max_fps"`
	MaxResolution   int    `toml:"max_resolution"`
	MaxAnchors      int    `toml:"max_anchors"`
	Retention       string `toml:"retention"`
	MaxRetained     int    `toml:"max_retained"`
	JanitorInterval string `toml:"janitor_interval"`
}

type Synthesis struct {
	Generator     string `toml:"generator"`
	LatentDim     int    `toml:"latent_dim"`
	RemoteURL     string `toml:"remote_url"`
	RemoteAPIKey  string `toml:"remote_api_key"`
	RemoteTimeout string `toml:"remote_timeout"`
	MaxAttempts   int    `toml:"max_attempts"`
	Workers       int    `toml:"workers"`
	SharpenFilter string `toml:"sharpen_filter"`
}

type Video struct {
	Format       string `toml:"format"`
	FFmpegBinary string `toml:"ffmpeg_binary"`
	CRF          int    `toml:"crf"`
	Preset       string `toml:"preset"`
}

type Preview struct {
	Enabled bool    `toml:"enabled"`
	Quality float32 `toml:"quality"`
}

type Events struct {
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisChannel  string `toml:"redis_channel"`
}

type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// Config holds every knob of the latentwalk service.
type Config struct {
	Server    Server    `toml:"server"`
	Paths     Paths     `toml:"paths"`
	Jobs      Jobs      `toml:"jobs"`
	Synthesis Synthesis `toml:"synthesis"`
	Video     Video     `toml:"video"`
	Preview   Preview   `toml:"preview"`
	Events    Events    `toml:"events"`
	Logging   Logging   `toml:"logging"`
}

// Load reads the TOML file at path (or the default locations when path is
// empty), applies LATENTWALK_* environment overrides, expands paths and
// validates the result. A missing file is not an error; defaults apply.
func Load(path string) (*Config, string, bool, error) {
	if wd, err := os.Getwd(); err == nil {
		if envFile, ok := findDotEnv(wd); ok {
			// Variables already set in the environment win over the file.
			_ = godotenv.Load(envFile)
		}
	}
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}
	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = getenv("LATENTWALK_CONFIG", "")
	}
	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("latentwalk.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// DefaultConfigPath returns the per-user config file location.
func DefaultConfigPath() (string, error) {
	return ExpandPath("~/.config/latentwalk/config.toml")
}

func (c *Config) applyEnv() error {
	c.Server.Addr = getenv("LATENTWALK_ADDR", c.Server.Addr)
	c.Server.BaseURL = getenv("LATENTWALK_BASE_URL", c.Server.BaseURL)
	c.Server.APIKey = getenv("LATENTWALK_API_KEY", getenv("API_KEY", c.Server.APIKey))
	c.Paths.DataDir = getenv("LATENTWALK_DATA_DIR", c.Paths.DataDir)
	c.Paths.OutputDir = getenv("LATENTWALK_OUTPUT_DIR", c.Paths.OutputDir)
	c.Synthesis.Generator = getenv("LATENTWALK_GENERATOR", c.Synthesis.Generator)
	c.Synthesis.RemoteURL = getenv("LATENTWALK_REMOTE_URL", c.Synthesis.RemoteURL)
	c.Synthesis.RemoteAPIKey = getenv("LATENTWALK_REMOTE_API_KEY", c.Synthesis.RemoteAPIKey)
	c.Video.Format = getenv("LATENTWALK_VIDEO_FORMAT", c.Video.Format)
	c.Video.FFmpegBinary = getenv("LATENTWALK_FFMPEG", c.Video.FFmpegBinary)
	c.Events.RedisAddr = getenv("LATENTWALK_REDIS_ADDR", c.Events.RedisAddr)
	c.Events.RedisPassword = getenv("LATENTWALK_REDIS_PASSWORD", c.Events.RedisPassword)
	c.Logging.Level = getenv("LATENTWALK_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getenv("LATENTWALK_LOG_FORMAT", c.Logging.Format)

	maxConcurrent, err := getenvInt("LATENTWALK_MAX_CONCURRENT", c.Jobs.MaxConcurrent)
	if err != nil {
		return err
	}
	c.Jobs.MaxConcurrent = maxConcurrent
	return nil
}

// EnsureDirectories creates the data and output directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath is the job journal location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "jobs.db")
}

// LockPath is the single-instance lock file guarding DataDir.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "latentwalk.lock")
}

// RetentionDuration parses Jobs.Retention; zero disables age-based eviction.
func (c *Config) RetentionDuration() time.Duration {
	return mustDuration(c.Jobs.Retention)
}

func (c *Config) JanitorIntervalDuration() time.Duration {
	return mustDuration(c.Jobs.JanitorInterval)
}

func (c *Config) RemoteTimeoutDuration() time.Duration {
	return mustDuration(c.Synthesis.RemoteTimeout)
}

// mustDuration is only called on values already checked by Validate.
func mustDuration(raw string) time.Duration {
	d, _ := time.ParseDuration(strings.TrimSpace(raw))
	return d
}

// ExpandPath resolves a leading "~" and returns an absolute, cleaned path.
func ExpandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// CreateSample writes the sample configuration to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// findDotEnv returns the .env closest to start, searching at most five
// directories up.
func findDotEnv(start string) (string, bool) {
	dir := start
	for depth := 0; depth < 5; depth++ {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	return v, nil
}
