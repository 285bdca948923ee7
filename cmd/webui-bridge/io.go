package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lisuiheng/webui-bridge-go/core"
	"github.com/lisuiheng/webui-bridge-go/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// viewLine is one line written to stdout for every notification.
type viewLine struct {
	Channel  string          `json:"channel"`
	WorkerID string          `json:"workerId,omitempty"`
	Data     json.RawMessage `json:"data"`
}

type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{enc: json.NewEncoder(w)}
}

func (l *lineWriter) write(line viewLine) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(line); err != nil {
		logger.Warn("Failed to write view line", "error", err)
	}
}

func (l *lineWriter) viewSink() core.ViewSink {
	return core.ViewSinkFunc(func(data json.RawMessage) {
		l.write(viewLine{Channel: "view", Data: data})
	})
}

func (l *lineWriter) workerCallback(workerID string) core.WorkerCallback {
	return func(payload json.RawMessage) {
		l.write(viewLine{Channel: "worker", WorkerID: workerID, Data: payload})
	}
}

// sender is the subset of the bridge the input loop drives.
type sender interface {
	SendMessageFromView(message any) error
	SendWorkerMessageFromView(workerID string, message any) error
	TriggerSentryTestError() error
}

// pumpInput reads commands line by line:
//
//	{"any":"json"}          message-from-view
//	@<workerId> <json>      worker-message-from-view
//	!sentry                 diagnostics probe
//
// It returns nil at EOF.
func pumpInput(ctx context.Context, r io.Reader, s sender) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := handleInputLine(line, s); err != nil {
			logger.Warn("Ignoring input line", "error", err)
		}
	}
	return scanner.Err()
}

func handleInputLine(line string, s sender) error {
	switch {
	case line == "!sentry":
		return s.TriggerSentryTestError()
	case strings.HasPrefix(line, "@"):
		workerID, body, ok := strings.Cut(line[1:], " ")
		if !ok || workerID == "" {
			return fmt.Errorf("worker line needs \"@<workerId> <json>\": %q", line)
		}
		payload, err := parsePayload(body)
		if err != nil {
			return err
		}
		return s.SendWorkerMessageFromView(workerID, payload)
	default:
		payload, err := parsePayload(line)
		if err != nil {
			return err
		}
		return s.SendMessageFromView(payload)
	}
}

func parsePayload(s string) (json.RawMessage, error) {
	s = strings.TrimSpace(s)
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("payload is not valid JSON: %q", s)
	}
	return json.RawMessage(s), nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
