package bus

import "context"

// Status is the explicit outcome of a bus operation. Buses never raise
// past their public methods for expected conditions; everything returns
// one of these plus a reason, as specified by §7's error-kind table.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDeferred Status = "deferred"
	StatusDenied   Status = "denied"
	StatusPending  Status = "pending"
	StatusError    Status = "error"
)

// Result wraps a bus operation's outcome uniformly so callers can branch
// on Status without a type switch per bus.
type Result struct {
	Status Status
	Reason string
	Value  interface{}
}

func OK(value interface{}) Result       { return Result{Status: StatusOK, Value: value} }
func Denied(reason string) Result       { return Result{Status: StatusDenied, Reason: reason} }
func ErrorResult(reason string) Result  { return Result{Status: StatusError, Reason: reason} }
func Deferred(reason string) Result     { return Result{Status: StatusDeferred, Reason: reason} }
func Pending(reason string) Result      { return Result{Status: StatusPending, Reason: reason} }

// CommunicationProvider is the contract §6 assigns to communication
// adapters (chat/HTTP/CLI front-ends plugged in externally).
type CommunicationProvider interface {
	SendMessage(ctx context.Context, channelID, content string) (bool, error)
	FetchMessages(ctx context.Context, channelID string, limit int) ([]FetchedMessage, error)
	IsHealthy(ctx context.Context) bool
	Capabilities() []string
}

// FetchedMessage is one message returned by a communication provider.
type FetchedMessage struct {
	ID        string
	ChannelID string
	Author    string
	Content   string
	Timestamp int64
}

// MemoryProvider is the contract §6 assigns to memory/graph adapters.
type MemoryProvider interface {
	Memorize(ctx context.Context, node interface{}) error
	Recall(ctx context.Context, query interface{}) (interface{}, error)
	Forget(ctx context.Context, node interface{}) error
	IsHealthy(ctx context.Context) bool
	Capabilities() []string
}

// ToolProvider is the contract §6 assigns to tool adapters.
type ToolProvider interface {
	ExecuteTool(ctx context.Context, name string, params map[string]interface{}) (interface{}, error)
	GetAvailableTools(ctx context.Context) ([]string, error)
	IsHealthy(ctx context.Context) bool
	Capabilities() []string
}

// AuditProvider is the contract §6 assigns to audit sinks.
type AuditProvider interface {
	LogEvent(ctx context.Context, eventType string, data map[string]interface{}) error
	GetAuditTrail(ctx context.Context, entityID string, limit int) ([]AuditEntry, error)
	IsHealthy(ctx context.Context) bool
	Capabilities() []string
}

// AuditEntry is one record returned by GetAuditTrail.
type AuditEntry struct {
	EventType string
	Data      map[string]interface{}
	Timestamp int64
}

// TelemetryProvider is the contract §6 assigns to telemetry sinks.
type TelemetryProvider interface {
	RecordMetric(ctx context.Context, name string, value float64, tags map[string]string) error
	QueryTelemetry(ctx context.Context, query interface{}) (interface{}, error)
	IsHealthy(ctx context.Context) bool
	Capabilities() []string
}

// WiseProvider is the contract §6 assigns to the wise-authority adapter.
type WiseProvider interface {
	SendDeferral(ctx context.Context, reason string, context map[string]interface{}) error
	FetchGuidance(ctx context.Context, question string) (string, error)
	RequestReview(ctx context.Context, subject string, context map[string]interface{}) error
	IsHealthy(ctx context.Context) bool
	Capabilities() []string
}

// SecretsProvider is the contract §6 assigns to the secrets adapter.
type SecretsProvider interface {
	ProcessIncomingText(ctx context.Context, text string) (string, []string, error)
	RecallSecret(ctx context.Context, ref string) (string, error)
	ForgetSecret(ctx context.Context, ref string) error
	DecapsulateSecretsInParameters(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)
	UpdateFilterConfig(ctx context.Context, config map[string]interface{}) error
	IsHealthy(ctx context.Context) bool
	Capabilities() []string
}
