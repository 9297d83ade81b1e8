package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = ExpandPath(strings.TrimSpace(c.Paths.DataDir)); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.OutputDir, err = ExpandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Logging.File != "" {
		if c.Logging.File, err = ExpandPath(strings.TrimSpace(c.Logging.File)); err != nil {
			return fmt.Errorf("logging.file: %w", err)
		}
	}
	c.Server.BaseURL = strings.TrimRight(strings.TrimSpace(c.Server.BaseURL), "/")
	c.Synthesis.Generator = strings.ToLower(strings.TrimSpace(c.Synthesis.Generator))
	c.Synthesis.SharpenFilter = strings.ToLower(strings.TrimSpace(c.Synthesis.SharpenFilter))
	c.Video.Format = strings.ToLower(strings.TrimSpace(c.Video.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	return nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateSynthesis(); err != nil {
		return err
	}
	if err := c.validateVideo(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	return nil
}

func (c *Config) validateJobs() error {
	if c.Jobs.MaxConcurrent < 1 {
		return errors.New("jobs.max_concurrent must be >= 1")
	}
	if c.Jobs.LogTail < 1 {
		return errors.New("jobs.log_tail must be >= 1")
	}
	for name, v := range map[string]int{
		"jobs.max_seconds":    c.Jobs.MaxSeconds,
		"jobs.max_fps":        c.Jobs.MaxFPS,
		"jobs.max_resolution": c.Jobs.MaxResolution,
		"jobs.max_anchors":    c.Jobs.MaxAnchors,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be >= 0 (0 disables the limit)", name)
		}
	}
	if c.Jobs.MaxRetained < 0 {
		return errors.New("jobs.max_retained must be >= 0")
	}
	if err := validateDuration("jobs.retention", c.Jobs.Retention); err != nil {
		return err
	}
	if err := validateDuration("jobs.janitor_interval", c.Jobs.JanitorInterval); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateSynthesis() error {
	switch c.Synthesis.Generator {
	case "procedural":
	case "remote":
		if strings.TrimSpace(c.Synthesis.RemoteURL) == "" {
			return errors.New("synthesis.remote_url must be set when synthesis.generator is \"remote\"")
		}
	default:
		return fmt.Errorf("synthesis.generator: unsupported value %q", c.Synthesis.Generator)
	}
	if c.Synthesis.LatentDim < 1 {
		return errors.New("synthesis.latent_dim must be >= 1")
	}
	if c.Synthesis.MaxAttempts < 1 {
		return errors.New("synthesis.max_attempts must be >= 1")
	}
	if c.Synthesis.Workers < 1 {
		return errors.New("synthesis.workers must be >= 1")
	}
	switch c.Synthesis.SharpenFilter {
	case "kernel", "none":
	default:
		return fmt.Errorf("synthesis.sharpen_filter: unsupported value %q", c.Synthesis.SharpenFilter)
	}
	return validateDuration("synthesis.remote_timeout", c.Synthesis.RemoteTimeout)
}

func (c *Config) validateVideo() error {
	switch c.Video.Format {
	case "mp4":
		if strings.TrimSpace(c.Video.FFmpegBinary) == "" {
			return errors.New("video.ffmpeg_binary must be set for mp4 output")
		}
		if c.Video.CRF < 0 || c.Video.CRF > 51 {
			return errors.New("video.crf must be between 0 and 51")
		}
	case "gif":
	default:
		return fmt.Errorf("video.format: unsupported value %q", c.Video.Format)
	}
	if c.Preview.Enabled && (c.Preview.Quality < 0 || c.Preview.Quality > 100) {
		return errors.New("preview.quality must be between 0 and 100")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func validateDuration(name, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must not be negative", name)
	}
	return nil
}
