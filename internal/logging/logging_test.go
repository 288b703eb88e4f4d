package logging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{" WARN ", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "storefront.log")

	logger, closeLog, err := New(Config{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("visible")
	if err := closeLog(); err != nil {
		t.Fatalf("close returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"msg":"visible"`) {
		t.Fatalf("log output = %q, want visible json entry", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("log output = %q, debug entry should be filtered", out)
	}
}

func TestOpenWriter_CloseReleasesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storefront.log")
	ws, closeFn, err := openWriter(path)
	if err != nil {
		t.Fatalf("openWriter returned error: %v", err)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close returned error: %v", err)
	}
	if _, err := ws.Write([]byte("late\n")); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("write after close err = %v, want os.ErrClosed", err)
	}

	_, closeStderr, err := openWriter("stderr")
	if err != nil {
		t.Fatalf("openWriter(stderr) returned error: %v", err)
	}
	if err := closeStderr(); err != nil {
		t.Fatalf("closing stderr writer returned error: %v", err)
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatalf("OrNop(nil) returned nil")
	}
}
