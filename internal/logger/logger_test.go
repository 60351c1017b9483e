package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogger_SourceLocation(t *testing.T) {
	tests := []struct {
		name          string
		logFunc       func(Logger)
		expectedInLog string
		shouldNotHave []string
	}{
		{
			name:          "InfoShowsCallSite",
			logFunc:       func(l Logger) { l.Info("test message") },
			expectedInLog: "logger_test.go:",
			shouldNotHave: []string{"internal/logger/logger.go"},
		},
		{
			name:          "DebugShowsCallSite",
			logFunc:       func(l Logger) { l.Debug("debug message") },
			expectedInLog: "logger_test.go:",
			shouldNotHave: []string{"internal/logger/logger.go"},
		},
		{
			name:          "ErrorShowsCallSite",
			logFunc:       func(l Logger) { l.Error("error message") },
			expectedInLog: "logger_test.go:",
			shouldNotHave: []string{"internal/logger/logger.go"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := New(WithDebug(), WithFormat("text"), WithWriter(&buf), WithQuiet())

			tt.logFunc(l)

			output := buf.String()
			if !strings.Contains(output, tt.expectedInLog) {
				t.Errorf("expected log to contain %q, got: %s", tt.expectedInLog, output)
			}
			for _, bad := range tt.shouldNotHave {
				if strings.Contains(output, bad) {
					t.Errorf("log should not contain %q, got: %s", bad, output)
				}
			}
		})
	}
}

func TestLogger_WithAttachesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithFormat("text"), WithWriter(&buf), WithQuiet())
	l = l.With("conn", "abc123")

	l.Info("hello")

	if !strings.Contains(buf.String(), "conn=abc123") {
		t.Errorf("expected attached field in output, got: %s", buf.String())
	}
}

func TestLogger_QuietWithNoExtraWriterDiscardsOutput(t *testing.T) {
	l := New(WithQuiet())
	l.Info("should go nowhere")
}
