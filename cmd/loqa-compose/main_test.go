package main

import (
	"testing"

	"github.com/loqalabs/loqa-compose/internal/config"
)

func TestParseRequestAcceptsBareArray(t *testing.T) {
	req, err := parseRequest([]byte(`
	[{"author_id": 7, "content": "hi", "created_at": "2025-03-01T09:00:00Z"}]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(req.Events) != 1 || req.Events[0].AuthorID != 7 || req.RequestID != "" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestParseRequestAcceptsEnvelope(t *testing.T) {
	req, err := parseRequest([]byte(`{"request_id":"r-9","channel_id":"music","events":[{"author_id":1,"content":"a"},{"author_id":2,"content":"b"}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.RequestID != "r-9" || req.ChannelID != "music" || len(req.Events) != 2 {
		t.Fatalf("unexpected request %+v", req)
	}

	if _, err := parseRequest([]byte(`[{"author_id":"x"}]`)); err == nil {
		t.Fatal("expected decode error for malformed events")
	}
}

func TestPipelineUsesComposerConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Composer.Beat = 0.4
	cfg.Composer.MinDuration, cfg.Composer.MaxDuration = 10, 12
	c := pipelineFor(cfg)
	if c.Beat != 0.4 || c.MinDuration != 10 || c.MaxDuration != 12 || c.Scale.Len() == 0 {
		t.Fatalf("unexpected composer %+v", c)
	}
}
