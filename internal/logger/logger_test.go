package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantErr   string
		wantLevel zapcore.Level
	}{
		{name: "json info", level: "info", format: "json", wantLevel: zapcore.InfoLevel},
		{name: "console debug", level: "debug", format: "console", wantLevel: zapcore.DebugLevel},
		{name: "empty format is json", level: "warn", format: "", wantLevel: zapcore.WarnLevel},
		{name: "upper case level", level: "ERROR", format: "json", wantLevel: zapcore.ErrorLevel},
		{name: "mixed case level", level: "WaRn", format: "console", wantLevel: zapcore.WarnLevel},
		{name: "mixed case format", level: "Debug", format: "JSON", wantLevel: zapcore.DebugLevel},
		{name: "unknown level", level: "verbose", format: "json", wantErr: "invalid log level"},
		{name: "unknown format", level: "info", format: "xml", wantErr: "invalid log format"},
		{name: "text format", level: "info", format: "text", wantErr: "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.level, tt.format)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("New() error = %v, want %q", err, tt.wantErr)
				}
				if log != nil {
					t.Error("New() returned a logger alongside an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			core := log.Core()
			if !core.Enabled(tt.wantLevel) {
				t.Errorf("level %s disabled, want enabled", tt.wantLevel)
			}
			if tt.wantLevel > zapcore.DebugLevel && core.Enabled(tt.wantLevel-1) {
				t.Errorf("level %s enabled, want disabled", tt.wantLevel-1)
			}
		})
	}
}

func TestConfigTimestamp(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC)

	for _, format := range []string{"json", "console"} {
		t.Run(format, func(t *testing.T) {
			cfg, err := newConfig("info", format)
			if err != nil {
				t.Fatalf("newConfig() error = %v", err)
			}

			enc := zapcore.NewJSONEncoder(cfg.EncoderConfig)
			buf, err := enc.EncodeEntry(zapcore.Entry{Level: zapcore.InfoLevel, Time: at, Message: "lock acquired"}, nil)
			if err != nil {
				t.Fatalf("EncodeEntry() error = %v", err)
			}

			var line map[string]interface{}
			if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", buf.String(), err)
			}
			if got := line["timestamp"]; got != "2024-01-02T03:04:05.006Z" {
				t.Errorf("timestamp = %v, want ISO8601 2024-01-02T03:04:05.006Z", got)
			}
			if _, ok := line["ts"]; ok {
				t.Error("entry still carries the default ts key")
			}
		})
	}
}

// buildToFile builds the configured logger writing to a temp file.
func buildToFile(t *testing.T, level, format string) (*zap.Logger, string) {
	t.Helper()
	cfg, err := newConfig(level, format)
	if err != nil {
		t.Fatalf("newConfig() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "out.log")
	cfg.OutputPaths = []string{path}

	log, err := cfg.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return log, path
}

func readLines(t *testing.T, log *zap.Logger, path string) []string {
	t.Helper()
	_ = log.Sync()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	return strings.Split(strings.TrimSpace(string(b)), "\n")
}

func TestNoSampling(t *testing.T) {
	cfg, err := newConfig("info", "json")
	if err != nil {
		t.Fatalf("newConfig() error = %v", err)
	}
	if cfg.Sampling != nil {
		t.Fatalf("Sampling = %+v, want nil", cfg.Sampling)
	}

	// The production default would keep 100 lines, then one in a hundred.
	log, path := buildToFile(t, "info", "json")
	const n = 250
	for i := 0; i < n; i++ {
		log.Info("Resource is locked", zap.String("resource", "node/doc-1/p1"))
	}
	if got := len(readLines(t, log, path)); got != n {
		t.Errorf("lines written = %d, want %d", got, n)
	}
}

func TestStacktraceOnlyAtDebug(t *testing.T) {
	tests := []struct {
		level string
		want  bool
	}{
		{"debug", true},
		{"info", false},
		{"error", false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log, path := buildToFile(t, tt.level, "json")
			log.Error("Lock operation failed")

			lines := readLines(t, log, path)
			var line map[string]interface{}
			if err := json.Unmarshal([]byte(lines[0]), &line); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", lines[0], err)
			}
			if _, got := line["stacktrace"]; got != tt.want {
				t.Errorf("stacktrace present = %v, want %v", got, tt.want)
			}
			if line["level"] != "error" || line["msg"] != "Lock operation failed" {
				t.Errorf("entry = %v", line)
			}
		})
	}
}

func TestNop(t *testing.T) {
	log := Nop()
	if log.Core().Enabled(zapcore.FatalLevel) {
		t.Error("Nop() logger is enabled")
	}
	log.Info("discarded")
}
