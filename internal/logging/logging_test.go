package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func resetLoggingState() {
	mu.Lock()
	defer mu.Unlock()

	baseWriter = os.Stderr
	baseComponent = ""
	baseLogger = zerolog.New(baseWriter).With().Timestamp().Logger()
	log.Logger = baseLogger
	zerolog.TimeFieldFormat = defaultTimeFmt
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func readJSONLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	line := strings.TrimSpace(buf.String())
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	if line == "" {
		t.Fatalf("expected log output, got empty string")
	}

	var event map[string]interface{}
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	return event
}

func TestInitSetsLevelAndComponent(t *testing.T) {
	t.Cleanup(resetLoggingState)

	var buf bytes.Buffer
	Init(Config{
		Level:     "debug",
		Component: "subtracker",
		Output:    &buf,
	})

	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("expected global level debug, got %s", zerolog.GlobalLevel())
	}

	log.Debug().Msg("hello")
	event := readJSONLine(t, &buf)
	if event["component"] != "subtracker" {
		t.Fatalf("component=%v, want subtracker", event["component"])
	}
	if event["message"] != "hello" {
		t.Fatalf("message=%v, want hello", event["message"])
	}
}

func TestSetLevel(t *testing.T) {
	t.Cleanup(resetLoggingState)

	SetLevel("error")
	if IsLevelEnabled(zerolog.WarnLevel) {
		t.Fatal("warn should be disabled at error level")
	}
	if !IsLevelEnabled(zerolog.ErrorLevel) {
		t.Fatal("error should be enabled at error level")
	}
}

func TestSelectWriterFallsBackToStderr(t *testing.T) {
	original := isTerminalFn
	t.Cleanup(func() { isTerminalFn = original })
	isTerminalFn = func(int) bool { return false }

	if w := selectWriter("auto"); w != os.Stderr {
		t.Fatalf("expected stderr for non-terminal auto format, got %#v", w)
	}
	if _, ok := selectWriter("console").(zerolog.ConsoleWriter); !ok {
		t.Fatal("expected console writer for console format")
	}
	if w := selectWriter("bogus"); w != os.Stderr {
		t.Fatalf("expected stderr for invalid format, got %#v", w)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		" error ": zerolog.ErrorLevel,
		"nope":    zerolog.InfoLevel,
	}
	for input, want := range tests {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q)=%s, want %s", input, got, want)
		}
	}
}

func TestRequestIDRoundTripAndLogger(t *testing.T) {
	t.Cleanup(resetLoggingState)

	var buf bytes.Buffer
	Init(Config{Level: "info", Output: &buf})

	ctx, id := WithRequestID(context.Background(), "")
	if id == "" {
		t.Fatal("expected generated request id")
	}
	if got := RequestID(ctx); got != id {
		t.Fatalf("RequestID=%q, want %q", got, id)
	}

	FromContext(ctx).Info().Msg("with id")
	event := readJSONLine(t, &buf)
	if event["request_id"] != id {
		t.Fatalf("request_id=%v, want %s", event["request_id"], id)
	}

	_, explicit := WithRequestID(ctx, "  req-1 ")
	if explicit != "req-1" {
		t.Fatalf("explicit id=%q, want req-1", explicit)
	}
}
