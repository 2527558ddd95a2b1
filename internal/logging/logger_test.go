package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"grawlix/internal/logging"
)

func TestNewJSONEmitsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "debug", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("book done", logging.String(logging.FieldBook, "Example"), logging.Int("pages", 12))

	line := buf.String()
	for _, fragment := range []string{`"msg":"book done"`, `"book":"Example"`, `"pages":12`} {
		if !strings.Contains(line, fragment) {
			t.Fatalf("expected %q in output %q", fragment, line)
		}
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "warn", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("suppressed")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Fatalf("info record should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("warn record missing: %q", out)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestConsoleHandlerRendersComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	scoped := logging.NewComponentLogger(logger, "fetch")
	scoped.Info("retrying", logging.Int("attempt", 2))

	out := buf.String()
	if !strings.Contains(out, "fetch") || !strings.Contains(out, "retrying") {
		t.Fatalf("console output missing component or message: %q", out)
	}
	if !strings.Contains(out, "attempt=2") {
		t.Fatalf("console output missing attribute: %q", out)
	}
}
