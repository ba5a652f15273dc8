package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		" WARN ":  logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"":        logrus.InfoLevel,
		"verbose": logrus.InfoLevel,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestNewWritesJSONByDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(&buf, "info", "")
	logger.WithField("component", "test").Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json log line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "test" || line["msg"] != "hello" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(&buf, "debug", "text")
	logger.Debug("visible")

	if !strings.Contains(buf.String(), "msg=visible") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}
