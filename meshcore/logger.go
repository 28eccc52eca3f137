package meshcore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ProductionLogger is the default Logger implementation: structured JSON
// (or human-readable text in dev mode) to stdout/stderr, optionally
// scoped to a component name.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	component   string
	format      string
	output      io.Writer
}

// NewProductionLogger builds a logger from LoggingConfig/DevelopmentConfig.
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) Logger {
	var out io.Writer = os.Stdout
	if logging.Output == "stderr" {
		out = os.Stderr
	}
	format := logging.Format
	if dev.PrettyLogs {
		format = "text"
	}
	return &ProductionLogger{
		level:       strings.ToLower(logging.Level),
		debug:       dev.DebugLogging || strings.ToLower(logging.Level) == "debug",
		serviceName: serviceName,
		format:      format,
		output:      out,
	}
}

// WithComponent returns a derived logger tagging every entry with the
// given component name, e.g. "mesh/registry" or "graph/sync".
func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := *p
	clone.component = component
	return &clone
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, nil)
}
func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, nil)
}
func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, nil)
}
func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, nil)
	}
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, ctx)
}
func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, ctx)
}
func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, ctx)
}
func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, ctx)
	}
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}, ctx context.Context) {
	timestamp := time.Now().Format(time.RFC3339Nano)

	if p.format != "text" {
		entry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"message":   msg,
		}
		if p.component != "" {
			entry["component"] = p.component
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
		p.emitMetric(ctx, level)
		return
	}

	var fieldStr strings.Builder
	for k, v := range fields {
		fieldStr.WriteString(fmt.Sprintf(" %s=%v", k, v))
	}
	comp := p.component
	if comp == "" {
		comp = p.serviceName
	}
	fmt.Fprintf(p.output, "%s [%s] [%s] %s%s\n", timestamp, level, comp, msg, fieldStr.String())
	p.emitMetric(ctx, level)
}

func (p *ProductionLogger) emitMetric(ctx context.Context, level string) {
	t := GlobalTelemetry()
	if t == nil {
		return
	}
	labels := map[string]string{"level": level, "service": p.serviceName}
	if p.component != "" {
		labels["component"] = p.component
	}
	t.RecordMetric("mesh.log.events", 1, labels)
}
