// Package telemetry implements the engine's production logger and
// OpenTelemetry-backed tracing/metrics, satisfying the core.Logger and
// core.Telemetry interfaces.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rgeissen/turnengine/core"
)

// ProductionLogger is the default core.ComponentAwareLogger. Format and
// level are fixed at construction; component tagging happens through
// WithComponent, which returns a lightweight view sharing the same
// rate limiter and output.
type ProductionLogger struct {
	mu          sync.Mutex
	level       string
	debug       bool
	serviceName string
	component   string
	format      string
	output      io.Writer

	errorLimiter *RateLimiter
}

// NewProductionLogger builds a logger from the engine's LoggingConfig.
// Kubernetes environments default to JSON regardless of the configured
// format, matching how most log aggregation pipelines expect to ingest
// container stdout.
func NewProductionLogger(cfg core.LoggingConfig, serviceName string) core.ComponentAwareLogger {
	var output io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		output = os.Stderr
	}

	format := cfg.Format
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}

	return &ProductionLogger{
		level:        strings.ToUpper(cfg.Level),
		debug:        strings.ToUpper(cfg.Level) == "DEBUG",
		serviceName:  serviceName,
		format:       format,
		output:       output,
		errorLimiter: NewRateLimiter(time.Second),
	}
}

func (l *ProductionLogger) WithComponent(component string) core.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &ProductionLogger{
		level:        l.level,
		debug:        l.debug,
		serviceName:  l.serviceName,
		component:    component,
		format:       l.format,
		output:       l.output,
		errorLimiter: l.errorLimiter,
	}
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.logEvent(nil, "INFO", msg, fields)
}
func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.logEvent(nil, "WARN", msg, fields)
}
func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if l.debug {
		l.logEvent(nil, "DEBUG", msg, fields)
	}
}
func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	if l.errorLimiter.Allow() {
		l.logEvent(nil, "ERROR", msg, fields)
	}
}

func (l *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.logEvent(ctx, "INFO", msg, fields)
}
func (l *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.logEvent(ctx, "WARN", msg, fields)
}
func (l *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if l.debug {
		l.logEvent(ctx, "DEBUG", msg, fields)
	}
}
func (l *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if l.errorLimiter.Allow() {
		l.logEvent(ctx, "ERROR", msg, fields)
	}
}

func (l *ProductionLogger) logEvent(ctx context.Context, level, msg string, fields map[string]interface{}) {
	if !l.shouldLog(level) {
		return
	}

	timestamp := time.Now().Format(time.RFC3339Nano)
	traceID := ""
	if ctx != nil {
		traceID = TraceIDFromContext(ctx)
	}

	if l.format == "json" {
		entry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   l.serviceName,
			"component": l.component,
			"message":   msg,
		}
		if traceID != "" {
			entry["trace_id"] = traceID
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			l.mu.Lock()
			fmt.Fprintln(l.output, string(data))
			l.mu.Unlock()
		}
		return
	}

	var b strings.Builder
	if traceID != "" {
		fmt.Fprintf(&b, "[trace=%s] ", traceID)
	}
	for k, v := range fields {
		fmt.Fprintf(&b, "%s=%v ", k, v)
	}
	l.mu.Lock()
	fmt.Fprintf(l.output, "%s [%s] [%s:%s] %s %s\n", timestamp, level, l.serviceName, l.component, msg, b.String())
	l.mu.Unlock()
}

func (l *ProductionLogger) shouldLog(level string) bool {
	order := map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}
	cur, ok1 := order[l.level]
	msg, ok2 := order[level]
	if !ok1 || !ok2 {
		return true
	}
	return msg >= cur
}
