// Package applog is qpackt's process-wide logger. It writes timestamped,
// level-prefixed lines to stderr, with level toggles and an optional
// best-effort push of the same lines to a Loki-compatible endpoint, so an
// operator can point
// QPACKT_LOKI_URL at a log aggregator without qpackt depending on one.
package applog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	lokiURL    string
	lokiOnce   sync.Once
	lokiClient = &http.Client{Timeout: 200 * time.Millisecond}

	mu           sync.Mutex
	debugEnabled = false
	infoEnabled  = true
	warnEnabled  = true
	errorEnabled = true
)

// Configure applies level toggles read from the config file (see
// internal/config). Called once at startup; safe to call multiple times.
func Configure(debug, info, warn, errorLvl bool) {
	mu.Lock()
	defer mu.Unlock()
	debugEnabled, infoEnabled, warnEnabled, errorEnabled = debug, info, warn, errorLvl
}

func Debug(format string, args ...any) { emit("debug", format, args...) }
func Info(format string, args ...any)  { emit("info", format, args...) }
func Warn(format string, args ...any)  { emit("warn", format, args...) }
func Error(format string, args ...any) { emit("error", format, args...) }

func emit(level, format string, args ...any) {
	if !levelEnabled(level) {
		return
	}
	line := level + " " + sprintf(format, args...)
	os.Stderr.WriteString(time.Now().Format(time.RFC3339) + " " + line + "\n")
	pushLoki(level, line)
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

func levelEnabled(level string) bool {
	mu.Lock()
	defer mu.Unlock()
	switch level {
	case "debug":
		return debugEnabled
	case "warn":
		return warnEnabled
	case "error":
		return errorEnabled
	default:
		return infoEnabled
	}
}

// pushLoki is a fire-and-forget best-effort push; it never blocks the
// caller beyond the client's short timeout and never surfaces an error.
func pushLoki(level, line string) {
	lokiOnce.Do(func() {
		lokiURL = strings.TrimSpace(os.Getenv("QPACKT_LOKI_URL"))
		if lokiURL != "" && !strings.Contains(lokiURL, "/loki/api/v1/push") {
			lokiURL = strings.TrimRight(lokiURL, "/") + "/loki/api/v1/push"
		}
	})
	if lokiURL == "" {
		return
	}
	ts := strconv.FormatInt(time.Now().UnixNano(), 10)
	payload := struct {
		Streams []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		} `json:"streams"`
	}{
		Streams: []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		}{
			{Stream: map[string]string{"app": "qpackt", "level": level}, Values: [][2]string{{ts, line}}},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	req, err := http.NewRequest(http.MethodPost, lokiURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	go func() { _, _ = lokiClient.Do(req) }()
}
