package scanning

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/hashferry/internal/domain/events"
	"github.com/ahrav/hashferry/internal/domain/migration"
	"github.com/ahrav/hashferry/pkg/common/logger"
)

var _ events.EventHandler = (*ScanRequestHandler)(nil)

// ScanRequestHandler consumes ScanRequested events from the scan-control
// topic and runs one scanner invocation per event. The event is only
// acknowledged after the invocation returns cleanly, so a crashed worker's
// request is redelivered and resumes from the persisted cursor.
type ScanRequestHandler struct {
	scanner *PartitionScanner

	logger *logger.Logger
	tracer trace.Tracer
}

// NewScanRequestHandler creates a handler driving the provided scanner.
func NewScanRequestHandler(scanner *PartitionScanner, logger *logger.Logger, tracer trace.Tracer) *ScanRequestHandler {
	return &ScanRequestHandler{
		scanner: scanner,
		logger:  logger.With("component", "scan_request_handler"),
		tracer:  tracer,
	}
}

// SupportedEvents implements events.EventHandler.
func (h *ScanRequestHandler) SupportedEvents() []events.EventType {
	return []events.EventType{migration.EventTypeScanRequested}
}

// HandleEvent implements events.EventHandler. A malformed payload is returned
// as an error without acknowledgment; the bus's redelivery-then-dead-letter
// policy owns its disposition.
func (h *ScanRequestHandler) HandleEvent(
	ctx context.Context,
	evt events.EventEnvelope,
	ack events.AckFunc,
) error {
	ctx, span := h.tracer.Start(ctx, "scan_request_handler.handle_event",
		trace.WithAttributes(attribute.String("event_type", string(evt.Type))),
	)
	defer span.End()

	req, ok := evt.Payload.(migration.ScanRequestedEvent)
	if !ok {
		err := fmt.Errorf("invalid event payload type: %T", evt.Payload)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid event payload type")
		return err
	}

	shard, err := migration.NewShard(req.Shard.TotalPartitions, req.Shard.PartitionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid shard")
		return fmt.Errorf("invalid shard in scan request: %w", err)
	}

	report, err := h.scanner.Run(ctx, shard)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan invocation failed")
		return fmt.Errorf("run partition scan (shard: %s): %w", shard, err)
	}

	span.AddEvent("scan_invocation_complete", trace.WithAttributes(
		attribute.String("outcome", string(report.Outcome)),
		attribute.Int("pages", report.Pages),
		attribute.Int64("records_scanned", report.Cursor.RecordsScanned()),
	))
	span.SetStatus(codes.Ok, "scan invocation complete")
	h.logger.Info(ctx, "Scan invocation complete",
		"shard", shard.String(),
		"outcome", string(report.Outcome),
		"pages", report.Pages,
		"records_scanned", report.Cursor.RecordsScanned(),
	)

	ack(nil)
	return nil
}
