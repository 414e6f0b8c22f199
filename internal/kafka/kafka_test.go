package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.AlertTopic != "proctor-alerts" || cfg.DetectorTopic != "proctor-detections" {
		t.Errorf("unexpected default topics: %q %q", cfg.AlertTopic, cfg.DetectorTopic)
	}
	if cfg.RequiredAcks != -1 {
		t.Errorf("required acks = %d, want -1", cfg.RequiredAcks)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no brokers", func(c *Config) { c.Brokers = nil }},
		{"no topics", func(c *Config) {
			c.AlertTopic = ""
			c.DetectorTopic = ""
		}},
		{"bad protocol", func(c *Config) { c.SecurityProtocol = "KERBEROS" }},
		{"sasl without mechanism", func(c *Config) { c.SecurityProtocol = "SASL_SSL" }},
		{"sasl without credentials", func(c *Config) {
			c.SecurityProtocol = "SASL_PLAINTEXT"
			c.SASLMechanism = "PLAIN"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	good := DefaultConfig()
	good.SecurityProtocol = "SASL_SSL"
	good.SASLMechanism = "SCRAM-SHA-512"
	good.SASLUsername = "svc-proctor"
	good.SASLPassword = "secret"
	if err := good.Validate(); err != nil {
		t.Errorf("sasl config rejected: %v", err)
	}
}

func TestGetCompression(t *testing.T) {
	tests := []struct {
		in   string
		want kafka.Compression
	}{
		{"gzip", kafka.Gzip},
		{"snappy", kafka.Snappy},
		{"lz4", kafka.Lz4},
		{"zstd", kafka.Zstd},
		{"none", 0},
		{"", 0},
	}

	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.CompressionType = tt.in
		if got := cfg.GetCompression(); got != tt.want {
			t.Errorf("GetCompression(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGetDialer(t *testing.T) {
	cfg := DefaultConfig()
	dialer, err := cfg.GetDialer()
	if err != nil {
		t.Fatal(err)
	}
	if dialer.TLS != nil || dialer.SASLMechanism != nil {
		t.Error("plaintext dialer should carry neither TLS nor SASL")
	}

	cfg.SecurityProtocol = "SASL_SSL"
	cfg.SASLMechanism = "PLAIN"
	cfg.SASLUsername = "svc-proctor"
	cfg.SASLPassword = "secret"
	dialer, err = cfg.GetDialer()
	if err != nil {
		t.Fatal(err)
	}
	if dialer.TLS == nil {
		t.Error("SASL_SSL dialer missing TLS config")
	}
	if dialer.SASLMechanism == nil {
		t.Error("SASL_SSL dialer missing SASL mechanism")
	}

	cfg.SASLMechanism = "NTLM"
	if _, err := cfg.GetDialer(); err == nil {
		t.Error("expected error for unsupported mechanism")
	}
}
