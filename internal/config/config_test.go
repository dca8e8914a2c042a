package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Composer.Beat != 0.55 || cfg.Composer.MinDuration != 15 || cfg.Composer.MaxDuration != 30 {
		t.Fatalf("unexpected composer defaults: %+v", cfg.Composer)
	}
	if cfg.Synth.SampleRate != 44100 {
		t.Fatalf("expected 44100Hz default, got %d", cfg.Synth.SampleRate)
	}
	if cfg.Sampler.Enabled {
		t.Fatal("sampler should be off by default")
	}
}

func TestLoadFile(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "loqa-compose.yaml")
	data := `composer:
  beat: 0.5
  min_duration: 20
  max_duration: 35
synth:
  sample_rate: 22050
  channels: 2
history:
  retention_mode: ephemeral
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Composer.Beat != 0.5 || cfg.Composer.MinDuration != 20 || cfg.Composer.MaxDuration != 35 {
		t.Fatalf("composer section not applied: %+v", cfg.Composer)
	}
	if cfg.Composer.MaxEvents != 100 {
		t.Fatalf("unset keys keep defaults, got %d", cfg.Composer.MaxEvents)
	}
	if cfg.Synth.SampleRate != 22050 || cfg.Synth.Channels != 2 {
		t.Fatalf("synth section not applied: %+v", cfg.Synth)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_BUS_MAX_PAYLOAD_BYTES", "16777216")
	t.Setenv("LOQA_HISTORY_PATH", "./tmp.db")
	t.Setenv("LOQA_HISTORY_RETENTION_DAYS", "7")
	t.Setenv("LOQA_HISTORY_MAX_ENTRIES", "123")
	t.Setenv("LOQA_COMPOSER_BEAT", "0.5")
	t.Setenv("LOQA_COMPOSER_MIN_DURATION", "20")
	t.Setenv("LOQA_COMPOSER_MAX_DURATION", "35")
	t.Setenv("LOQA_COMPOSER_WORKERS", "4")
	t.Setenv("LOQA_SYNTH_SAMPLE_RATE", "48000")
	t.Setenv("LOQA_NODE_ID", "composer-b")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Bus.MaxPayload != 16<<20 {
		t.Fatalf("expected max payload override, got %d", cfg.Bus.MaxPayload)
	}
	if cfg.History.Path != "./tmp.db" || cfg.History.RetentionDays != 7 || cfg.History.MaxEntries != 123 {
		t.Fatalf("expected history overrides, got %+v", cfg.History)
	}
	if cfg.Composer.Beat != 0.5 || cfg.Composer.MinDuration != 20 || cfg.Composer.MaxDuration != 35 {
		t.Fatalf("expected composer overrides, got %+v", cfg.Composer)
	}
	if cfg.Composer.Workers != 4 {
		t.Fatalf("expected 4 workers, got %d", cfg.Composer.Workers)
	}
	if cfg.Synth.SampleRate != 48000 {
		t.Fatalf("expected sample rate override, got %d", cfg.Synth.SampleRate)
	}
	if cfg.Node.ID != "composer-b" {
		t.Fatalf("expected node id override, got %q", cfg.Node.ID)
	}
}

func TestLegacySoundFontEnvEnablesSampler(t *testing.T) {
	t.Setenv("SOUNDFONT_PATH", "/usr/share/sounds/sf2/FluidR3_GM.sf2")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Sampler.Enabled || cfg.Sampler.SoundFontPath != "/usr/share/sounds/sf2/FluidR3_GM.sf2" {
		t.Fatalf("expected sampler enabled from SOUNDFONT_PATH, got %+v", cfg.Sampler)
	}
}

func TestValidateRejectsBadWindows(t *testing.T) {
	cases := map[string]func(*Config){
		"inverted window": func(c *Config) { c.Composer.MinDuration, c.Composer.MaxDuration = 30, 15 },
		"zero beat":       func(c *Config) { c.Composer.Beat = 0 },
		"channels":        func(c *Config) { c.Synth.Channels = 6 },
		"sample rate":     func(c *Config) { c.Synth.SampleRate = 100 },
		"sampler mode":    func(c *Config) { c.Sampler.Enabled, c.Sampler.SoundFontPath, c.Sampler.Mode = true, "x.sf2", "midi" },
		"sampler bank":    func(c *Config) { c.Sampler.Enabled = true },
		"retention":       func(c *Config) { c.History.RetentionMode = "session" },
		"heartbeat":       func(c *Config) { c.Node.HeartbeatTimeout = c.Node.HeartbeatInterval - 1 },
		"payload limit":   func(c *Config) { c.Bus.MaxPayload = 128 << 20 },
		"payload fit":     func(c *Config) { c.Bus.MaxPayload = 1 << 20 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDefaultPayloadFitsLargestTrack(t *testing.T) {
	cfg := Default()
	cfg.Synth.SampleRate, cfg.Synth.Channels = 192000, 2
	if err := validate(cfg); err != nil {
		t.Fatalf("192 kHz stereo at the default window should fit: %v", err)
	}

	cfg = Default()
	cfg.Synth.Channels = 2
	cfg.Composer.MinDuration, cfg.Composer.MaxDuration = 20, 35
	// 36 s of 16-bit stereo at 44.1 kHz, base64 encoded
	if got := cfg.ReplyBytes(); got < 8_400_000 || got > cfg.Bus.MaxPayload {
		t.Fatalf("unexpected reply size %d for 35 s stereo", got)
	}

	cfg.Composer.MaxDuration = 600
	cfg.Synth.SampleRate = 192000
	if err := validate(cfg); err == nil {
		t.Fatal("expected a ten minute 192 kHz stereo track to overflow the bus")
	}
	cfg.Bus.Embedded = false
	if err := validate(cfg); err != nil {
		t.Fatalf("external servers are checked at reply time, got %v", err)
	}
}
