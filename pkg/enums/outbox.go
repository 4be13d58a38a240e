package enums

// OutboxAggregateType is aggregate_type_enum.
type OutboxAggregateType string

const (
	AggregateBomRequest OutboxAggregateType = "bom_request"
	AggregatePart       OutboxAggregateType = "part"
)

var aggregateTypes = []OutboxAggregateType{AggregateBomRequest, AggregatePart}

func (a OutboxAggregateType) IsValid() bool { return isOneOf(a, aggregateTypes) }

func ParseOutboxAggregateType(raw string) (OutboxAggregateType, error) {
	return parseOneOf("aggregate type", raw, aggregateTypes)
}

// OutboxEventType is event_type_enum; it doubles as the Pub/Sub event_type
// attribute.
type OutboxEventType string

const (
	EventRequestCreated    OutboxEventType = "request_created"
	EventRequestCancelled  OutboxEventType = "request_cancelled"
	EventRequestFulfilled  OutboxEventType = "request_fulfilled"
	EventScanAccepted      OutboxEventType = "scan_accepted"
	EventInventoryAdjusted OutboxEventType = "inventory_adjusted"
	EventStockDepleted     OutboxEventType = "stock_depleted"
)

var eventTypes = []OutboxEventType{
	EventRequestCreated,
	EventRequestCancelled,
	EventRequestFulfilled,
	EventScanAccepted,
	EventInventoryAdjusted,
	EventStockDepleted,
}

func (e OutboxEventType) IsValid() bool { return isOneOf(e, eventTypes) }

func ParseOutboxEventType(raw string) (OutboxEventType, error) {
	return parseOneOf("event type", raw, eventTypes)
}

// OutboxDLQErrorReason is outbox_dlq_error_reason_enum: why the publisher
// gave up on an event.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

var dlqReasons = []OutboxDLQErrorReason{OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable}

func (r OutboxDLQErrorReason) IsValid() bool { return isOneOf(r, dlqReasons) }
