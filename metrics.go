package wtlink

import (
	"errors"
	"log/slog"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/wtlink/pkg/flow"
)

var (
	MetricSessionEstCount         = []string{"wtlink", "session", "established", "count"}
	MetricSessionErrorCount       = []string{"wtlink", "session", "error", "count"}
	MetricSessionClosedCount      = []string{"wtlink", "session", "closed", "count"}
	MetricHandshakeEstCount       = []string{"wtlink", "handshake", "established", "count"}
	MetricHandshakeErrorCount     = []string{"wtlink", "handshake", "error", "count"}
	MetricHandshakeDuration       = []string{"wtlink", "handshake", "duration"}
	MetricChannelInBytes          = []string{"wtlink", "channel", "in", "bytes"}
	MetricChannelInCount          = []string{"wtlink", "channel", "in", "count"}
	MetricChannelOutBytes         = []string{"wtlink", "channel", "out", "bytes"}
	MetricChannelOutErrorCount    = []string{"wtlink", "channel", "out", "error", "count"}
	MetricChannelTerminationCount = []string{"wtlink", "channel", "termination", "count"}
)

type TelemetryLabel string

var (
	LabelError     TelemetryLabel = "error"
	LabelAddress   TelemetryLabel = "address"
	LabelCategory  TelemetryLabel = "category"
	LabelContextID TelemetryLabel = "context_id"
	LabelState     TelemetryLabel = "state"
	LabelReason    TelemetryLabel = "reason"
	LabelDigest    TelemetryLabel = "digest"
	LabelDuration  TelemetryLabel = "duration"
	LabelClosedBy  TelemetryLabel = "closed_by"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}

// errorKind gives a bounded-cardinality metric label for an error.
func errorKind(err error) string {
	for _, known := range []struct {
		err  error
		kind string
	}{
		{ErrSessionNotActive, "session_not_active"},
		{ErrUnknownCategory, "unknown_category"},
		{ErrChannelExists, "channel_exists"},
		{ErrStreamOpenFailed, "stream_open_failed"},
		{ErrWriteFailed, "write_failed"},
		{ErrEmptyResponse, "empty_response"},
		{ErrMalformedAck, "malformed_ack"},
		{ErrRejected, "rejected"},
		{ErrDecode, "decode"},
		{ErrConsumerPanic, "consumer_panic"},
		{ErrChannelClosed, "closed"},
		{ErrReadFailed, "read_failed"},
		{ErrSendFailed, "send_failed"},
		{flow.ErrStreamClosed, "stream_closed"},
		{flow.ErrFrameTooLarge, "frame_too_large"},
		{ErrCertificatePin, "certificate_pin"},
		{ErrConnectionUnreachable, "unreachable"},
	} {
		if errors.Is(err, known.err) {
			return known.kind
		}
	}
	return "unknown"
}

// telemetry bundles the logger and metric sink shared by a session and
// its channels.
type telemetry struct {
	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label
}

func newTelemetry(cfg *config) *telemetry {
	tel := &telemetry{
		msink:  cfg.msink,
		labels: cfg.metricLabels,
	}
	if cfg.logHandler == nil {
		tel.logger = slog.Default()
	} else {
		tel.logger = slog.New(cfg.logHandler)
	}
	if tel.msink == nil {
		tel.msink = metrics.Default()
	}
	return tel
}

func (tel *telemetry) withLabels(extra ...metrics.Label) []metrics.Label {
	labels := make([]metrics.Label, 0, len(tel.labels)+len(extra))
	labels = append(labels, tel.labels...)
	return append(labels, extra...)
}

func (tel *telemetry) incr(key []string, val float32, extra ...metrics.Label) {
	tel.msink.IncrCounterWithLabels(key, val, tel.withLabels(extra...))
}

func (tel *telemetry) sample(key []string, val float32, extra ...metrics.Label) {
	tel.msink.AddSampleWithLabels(key, val, tel.withLabels(extra...))
}
