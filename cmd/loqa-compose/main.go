package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/loqalabs/loqa-compose/internal/bus"
	"github.com/loqalabs/loqa-compose/internal/composer"
	"github.com/loqalabs/loqa-compose/internal/config"
	"github.com/loqalabs/loqa-compose/internal/music"
	"github.com/loqalabs/loqa-compose/internal/protocol"
	"github.com/loqalabs/loqa-compose/internal/synth"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'render', 'notes' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "render":
		err = runRender(os.Args[2:])
	case "notes":
		err = runNotes(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if errors.Is(err, music.ErrEmpty) {
		fmt.Fprintln(os.Stderr, composer.EmptyText)
		os.Exit(3)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runRender(args []string) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	in := fs.String("in", "-", "Chat history JSON (array of events or compose request), - for stdin")
	out := fs.String("out", "composition.wav", "Output WAV path")
	remote := fs.Bool("remote", false, "Send the request to a running composed over NATS instead of rendering locally")
	timeout := fs.Duration("timeout", 2*time.Minute, "Remote request timeout")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	req, err := readRequest(*in)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var reply protocol.ComposeReply
	if *remote {
		reply, err = renderRemote(cfg, req, *timeout, logger)
	} else {
		reply, err = renderLocal(cfg, req, logger)
	}
	if err != nil {
		return err
	}
	switch reply.Status {
	case protocol.StatusOK:
	case protocol.StatusEmpty:
		return music.ErrEmpty
	default:
		return fmt.Errorf("render failed: %s", reply.Error)
	}

	if err := os.WriteFile(*out, reply.Audio, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Printf("%s (%s, %s)\n", reply.Caption, reply.Backend, *out)
	return nil
}

func renderLocal(cfg config.Config, req protocol.ComposeRequest, logger *slog.Logger) (protocol.ComposeReply, error) {
	score, err := pipelineFor(cfg).Compose(composer.Recent(req.Events, cfg.Composer.MaxEvents))
	if err != nil {
		return protocol.ComposeReply{}, err
	}
	sampler, reason := synth.DetectSampler(cfg.Sampler)
	if sampler == nil && cfg.Sampler.Enabled {
		logger.Warn("sampler unavailable", slog.String("reason", reason))
	}
	res, err := synth.New(cfg.Synth, sampler, logger).Render(score.Notes, score.Duration)
	if err != nil {
		return protocol.ComposeReply{}, err
	}
	return protocol.ComposeReply{
		Status:   protocol.StatusOK,
		Audio:    res.Audio,
		Duration: res.Duration,
		Notes:    len(score.Notes),
		Backend:  res.Backend,
		Caption:  composer.Caption(score.Events, len(score.Notes), res.Duration),
	}, nil
}

func renderRemote(cfg config.Config, req protocol.ComposeRequest, timeout time.Duration, logger *slog.Logger) (protocol.ComposeReply, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	client, err := bus.Connect(ctx, cfg.Bus, logger)
	if err != nil {
		return protocol.ComposeReply{}, err
	}
	defer client.Close()

	var reply protocol.ComposeReply
	if err := client.RequestJSON(ctx, protocol.SubjectComposeRequest, req, &reply); err != nil {
		return protocol.ComposeReply{}, err
	}
	return reply, nil
}

func runNotes(args []string) error {
	fs := flag.NewFlagSet("notes", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	in := fs.String("in", "-", "Chat history JSON (array of events or compose request), - for stdin")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	req, err := readRequest(*in)
	if err != nil {
		return err
	}
	score, err := pipelineFor(cfg).Compose(composer.Recent(req.Events, cfg.Composer.MaxEvents))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(score)
}

func pipelineFor(cfg config.Config) music.Composer {
	return music.Composer{
		Scale:       music.DefaultScale,
		Beat:        cfg.Composer.Beat,
		MinDuration: cfg.Composer.MinDuration,
		MaxDuration: cfg.Composer.MaxDuration,
	}
}

// readRequest accepts either a bare JSON array of events or a full compose request.
func readRequest(path string) (protocol.ComposeRequest, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return protocol.ComposeRequest{}, fmt.Errorf("read input: %w", err)
	}
	return parseRequest(data)
}

func parseRequest(data []byte) (protocol.ComposeRequest, error) {
	var req protocol.ComposeRequest
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &req.Events); err != nil {
			return req, fmt.Errorf("decode events: %w", err)
		}
		return req, nil
	}
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return req, fmt.Errorf("decode compose request: %w", err)
	}
	return req, nil
}
