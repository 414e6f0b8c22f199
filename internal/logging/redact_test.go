package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"password", true},
		{"redis_password", true},
		{"SASL_PASSWORD", true},
		{"api_key", true},
		{"x-api-key", true},
		{"client_secret", true},
		{"authorization", true},
		{"session_token", true},
		{"subject_id", false},
		{"risk_score", false},
		{"error", false},
	}

	for _, tt := range tests {
		if got := IsSensitiveKey(tt.key); got != tt.want {
			t.Errorf("IsSensitiveKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestRedactAttrInHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		ReplaceAttr: RedactAttr,
	}))

	logger.Info("connecting",
		"addr", "redis:6379",
		"redis_password", "hunter2",
		"subject_id", "student-1",
	)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatal(err)
	}
	if record["redis_password"] != Masked {
		t.Errorf("redis_password = %v, want masked", record["redis_password"])
	}
	if record["addr"] != "redis:6379" {
		t.Errorf("addr = %v, should pass through", record["addr"])
	}
	if record["subject_id"] != "student-1" {
		t.Errorf("subject_id = %v, should pass through", record["subject_id"])
	}
	if strings.Contains(buf.String(), "hunter2") {
		t.Error("secret value leaked into log output")
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", Masked},
		{"pk_abcdefghijklmnop", "pk_a****mnop"},
	}

	for _, tt := range tests {
		if got := MaskKey(tt.in); got != tt.want {
			t.Errorf("MaskKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
