package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"JSON", Config{Level: "info", Format: "json"}, false},
		{"Console", Config{Level: "debug", Format: "console"}, false},
		{"DefaultLevel", Config{}, false},
		{"BadLevel", Config{Level: "loud"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && l.Logger == nil {
				t.Error("Expected a logger")
			}
		})
	}
}

func TestSetLevelPropagates(t *testing.T) {
	l, err := New(Config{Level: "info"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	child := l.WithComponent("server").WithRequestID("abc")

	if err := l.SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}
	if child.Level() != "debug" {
		t.Errorf("Expected derived logger at debug, got %s", child.Level())
	}
	if !child.Core().Enabled(-1) {
		t.Error("Expected debug to be enabled on derived logger")
	}
	if err := l.SetLevel("nope"); err == nil {
		t.Error("Expected error for unknown level")
	}
	if l.Level() != "debug" {
		t.Errorf("Failed SetLevel changed level to %s", l.Level())
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embed.log")
	l, err := New(Config{Level: "info", File: &FileConfig{Enabled: true, Path: path}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.LogRequest("POST", "/v1/embeddings", map[string][]string{
		"Authorization": {"Bearer secret"},
		"Content-Type":  {"application/json"},
	}, 200, time.Millisecond)
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "secret") {
		t.Error("Authorization header leaked into log")
	}
	if !strings.Contains(out, "[REDACTED]") || !strings.Contains(out, "/v1/embeddings") {
		t.Errorf("Unexpected log output: %s", out)
	}
}

func TestIsSensitiveHeader(t *testing.T) {
	for h, want := range map[string]bool{
		"Authorization": true,
		"X-Api-Key":     true,
		"Cookie":        true,
		"Content-Type":  false,
		"X-Request-Id":  false,
	} {
		if got := isSensitiveHeader(h); got != want {
			t.Errorf("isSensitiveHeader(%q) = %v, want %v", h, got, want)
		}
	}
}
