package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/latentwalk/api-go/internal/blob"
	"github.com/example/latentwalk/api-go/internal/config"
	"github.com/example/latentwalk/api-go/internal/events"
	"github.com/example/latentwalk/api-go/internal/logging"
	"github.com/example/latentwalk/api-go/internal/preview"
	"github.com/example/latentwalk/api-go/internal/synth"
	"github.com/example/latentwalk/api-go/internal/video"
)

func buildSynthesizer(cfg *config.Config, logger *slog.Logger) (*synth.Synthesizer, error) {
	var gen synth.Generator
	switch cfg.Synthesis.Generator {
	case "remote":
		remote, err := synth.NewRemote(cfg.Synthesis.RemoteURL, cfg.Synthesis.LatentDim, cfg.RemoteTimeoutDuration())
		if err != nil {
			return nil, err
		}
		remote.APIKey = cfg.Synthesis.RemoteAPIKey
		gen = remote
	default:
		procedural, err := synth.NewProcedural(cfg.Synthesis.LatentDim)
		if err != nil {
			return nil, err
		}
		gen = procedural
	}

	sharpen, ok := synth.FilterByName(cfg.Synthesis.SharpenFilter)
	if !ok {
		return nil, fmt.Errorf("unknown sharpen filter %q", cfg.Synthesis.SharpenFilter)
	}
	return synth.New(gen, synth.Options{
		Sharpen:     sharpen,
		MaxAttempts: cfg.Synthesis.MaxAttempts,
		Logger:      logger,
	}), nil
}

func buildAssembler(cfg *config.Config, logger *slog.Logger) (video.Format, *video.Assembler, error) {
	format, err := video.FormatByName(cfg.Video.Format)
	if err != nil {
		return video.Format{}, nil, err
	}
	var open video.SinkFactory
	switch format {
	case video.GIF:
		open = video.OpenGIF
	default:
		ffmpeg := video.NewFFmpeg(
			video.WithBinary(cfg.Video.FFmpegBinary),
			video.WithCRF(cfg.Video.CRF),
			video.WithPreset(cfg.Video.Preset),
		)
		if !ffmpeg.Available() {
			logger.Warn("ffmpeg not found on PATH; mp4 jobs will fail until it is installed",
				logging.String("binary", cfg.Video.FFmpegBinary))
		}
		open = ffmpeg.Open
	}
	return format, video.NewAssembler(open, logger), nil
}

func buildPoster(cfg *config.Config, blobs blob.LocalFS) *preview.Poster {
	if !cfg.Preview.Enabled {
		return nil
	}
	return preview.New(blobs, cfg.Preview.Quality)
}

// buildEvents returns the websocket hub and the publisher jobs report to. The
// Redis channel is added when an address is configured.
func buildEvents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*events.Hub, events.Publisher, func(), error) {
	hub := events.NewHub()
	if cfg.Events.RedisAddr == "" {
		return hub, hub, func() {}, nil
	}
	client, err := events.Connect(ctx, cfg.Events.RedisAddr, cfg.Events.RedisPassword)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("publishing job events to redis",
		logging.String("addr", cfg.Events.RedisAddr),
		logging.String("channel", cfg.Events.RedisChannel))
	rdb := events.NewRedis(client, cfg.Events.RedisChannel)
	return hub, events.Multi{hub, rdb}, func() { _ = rdb.Close() }, nil
}
