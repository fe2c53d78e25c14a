package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"trace", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		l, err := New("warn", format)
		if err != nil {
			t.Fatalf("New(%q) error = %v", format, err)
		}
		if l.Core().Enabled(zapcore.InfoLevel) {
			t.Errorf("New(warn, %q) enables info", format)
		}
		if !l.Core().Enabled(zapcore.ErrorLevel) {
			t.Errorf("New(warn, %q) disables error", format)
		}
	}

	if _, err := New("loud", "json"); err == nil {
		t.Error("New() error = nil for invalid level")
	}
}

func TestComponentBeforeInit(t *testing.T) {
	if Component("server") == nil {
		t.Error("Component() returned nil")
	}
}
