package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestSetupWriter_JSONShape(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(prev)
		log.SetOutput(os.Stderr)
	})

	var buf bytes.Buffer
	logger := SetupWriter(&buf, "lending-ledger", "test", "info")
	logger.Info("hello", slog.String("loan_id", "7"))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("not json: %v (%q)", err, buf.String())
	}
	for k, want := range map[string]string{"service": "lending-ledger", "env": "test", "severity": "INFO", "message": "hello", "loan_id": "7"} {
		if got, _ := line[k].(string); got != want {
			t.Fatalf("%s = %q, want %q", k, got, want)
		}
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatal("timestamp missing")
	}
}

func TestSetupWriter_LevelAndBridge(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(prev)
		log.SetOutput(os.Stderr)
	})

	var buf bytes.Buffer
	logger := SetupWriter(&buf, "svc", "", "warn")
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}

	log.Print("from std log")
	if !strings.Contains(buf.String(), `"message":"from std log"`) {
		t.Fatalf("std log not bridged: %q", buf.String())
	}
	if strings.Contains(buf.String(), `"env"`) {
		t.Fatal("empty env must be omitted")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo, "bogus": slog.LevelInfo}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("%q -> %v, want %v", in, got, want)
		}
	}
}
