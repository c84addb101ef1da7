// Package logging sets up the process-wide zerolog logger for the mechos
// runtime. Every log line passes through a redacting writer so an
// accidentally-logged LLM API key, hardware auth token, or broker
// credential never reaches disk, and OODA-phase call sites get a
// trace-correlated logger via LoggerWithTrace/PhaseLogger rather than the
// bare global singleton.
package logging

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// redactingWriter runs every log line zerolog produces through RedactJSON
// before it reaches the underlying writer. zerolog emits one JSON object per
// Write call, which is exactly the shape RedactJSON expects.
type redactingWriter struct {
	w io.Writer
}

func (r redactingWriter) Write(p []byte) (int, error) {
	redacted := RedactJSON(p)
	if _, err := r.w.Write(redacted); err != nil {
		return 0, err
	}
	return len(p), nil
}

// InitLogger initializes zerolog with sane defaults for the agent daemon and
// cockpit bridge. If logPath is non-empty, logs are written to that file
// (append mode) instead of stdout. If opening the file fails, logs fall back to stdout,
// and an error is printed to stderr. Every line is routed through
// redactingWriter so logged hardware-command payloads or LLM request bodies
// never leak a credential.
func InitLogger(logPath string, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var w io.Writer = os.Stdout
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			// When a log file is configured, write only to the file to avoid
			// interfering with interactive UIs (e.g., TUI) that use stdout.
			w = f
		} else {
			// best-effort; continue with stdout
			_, _ = fmt.Fprintf(os.Stderr, "failed to open log file %q: %v\n", logPath, err)
		}
	}
	log.Logger = log.Output(redactingWriter{w: w}).With().Timestamp().Logger()
	// Parse level
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl := zerolog.InfoLevel
	if level != "" {
		if l, err := zerolog.ParseLevel(level); err == nil {
			lvl = l
		}
	}
	zerolog.SetGlobalLevel(lvl)
	// Redirect the standard library logger so ALL logs are captured.
	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)
}
