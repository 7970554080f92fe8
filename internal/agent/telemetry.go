package agent

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/neoclaw-ai/vulnagent/internal/logging"
	"github.com/neoclaw-ai/vulnagent/internal/transport"
)

const instrumentationName = "github.com/neoclaw-ai/vulnagent/internal/agent"

var tracer = otel.Tracer(instrumentationName)

type instruments struct {
	toolCalls    metric.Int64Counter
	modelCalls   metric.Int64Counter
	toolDuration metric.Float64Histogram
}

// meterInstruments is created once from the global meter provider, which
// forwards to any provider installed later.
var meterInstruments = sync.OnceValue(newInstruments)

func newInstruments() instruments {
	meter := otel.Meter(instrumentationName)
	var ins instruments
	var err error
	if ins.toolCalls, err = meter.Int64Counter("vulnagent.tool.calls",
		metric.WithDescription("Tool invocations by tool and outcome.")); err != nil {
		logging.Logger().Debug("create tool call counter", "err", err)
	}
	if ins.modelCalls, err = meter.Int64Counter("vulnagent.model.calls",
		metric.WithDescription("Model gateway requests by outcome.")); err != nil {
		logging.Logger().Debug("create model call counter", "err", err)
	}
	if ins.toolDuration, err = meter.Float64Histogram("vulnagent.tool.duration",
		metric.WithDescription("Tool invocation latency."), metric.WithUnit("s")); err != nil {
		logging.Logger().Debug("create tool duration histogram", "err", err)
	}
	return ins
}

func recordToolCall(ctx context.Context, result transport.ToolCallResult) {
	ins := meterInstruments()
	outcome := "ok"
	if !result.Succeeded {
		outcome = string(result.Kind)
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", result.ToolName),
		attribute.String("outcome", outcome),
	)
	if ins.toolCalls != nil {
		ins.toolCalls.Add(ctx, 1, attrs)
	}
	if ins.toolDuration != nil {
		ins.toolDuration.Record(ctx, result.Duration.Seconds(), metric.WithAttributes(attribute.String("tool", result.ToolName)))
	}
}

func recordModelCall(ctx context.Context, outcome string) {
	ins := meterInstruments()
	if ins.modelCalls != nil {
		ins.modelCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}
