package botpipe

import (
	"time"

	runtimepkg "github.com/drblury/botpipe/internal/runtime"
	"github.com/drblury/botpipe/internal/runtime/bridge"
	configpkg "github.com/drblury/botpipe/internal/runtime/config"
	"github.com/drblury/botpipe/internal/runtime/dispatch"
	errspkg "github.com/drblury/botpipe/internal/runtime/errors"
	"github.com/drblury/botpipe/internal/runtime/event"
	idspkg "github.com/drblury/botpipe/internal/runtime/ids"
	jsoncodec "github.com/drblury/botpipe/internal/runtime/jsoncodec"
	"github.com/drblury/botpipe/internal/runtime/kvstore"
	loggingpkg "github.com/drblury/botpipe/internal/runtime/logging"
	"github.com/drblury/botpipe/internal/runtime/notify"
	transportpkg "github.com/drblury/botpipe/internal/runtime/transport"
	"github.com/drblury/botpipe/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Submitter           = runtimepkg.Submitter
	Stats               = runtimepkg.Stats
	PipelineMetrics     = runtimepkg.PipelineMetrics

	Event   = event.Event
	ActorID = event.ActorID
	Kind    = event.Kind

	Handler     = dispatch.Handler
	HandlerFunc = dispatch.HandlerFunc
	Outcome     = dispatch.Outcome
	BridgeFunc  = bridge.Func

	// Job lifecycle hooks
	JobContext = dispatch.JobContext
	JobHooks   = dispatch.JobHooks

	Notifier           = notify.Notifier
	NotifierFunc       = notify.Func
	Notification       = notify.Notification
	NotificationReason = notify.Reason

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger
	NopLogger     = loggingpkg.NopLogger

	ConfigValidationError = errspkg.ConfigValidationError
	HandlerError          = errspkg.HandlerError

	KVStore = kvstore.Store

	Transport             = transport.Transport
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
	TransportFactory      = transportpkg.Factory
	TransportFactoryFunc  = transportpkg.FactoryFunc
)

const (
	KindMessage       = event.KindMessage
	KindCallbackQuery = event.KindCallbackQuery
	KindOther         = event.KindOther

	OutcomeHandled      = dispatch.OutcomeHandled
	OutcomeFailed       = dispatch.OutcomeFailed
	OutcomeCancelled    = dispatch.OutcomeCancelled
	OutcomeRateLimited  = dispatch.OutcomeRateLimited
	OutcomeBusy         = dispatch.OutcomeBusy
	OutcomeUnknownActor = dispatch.OutcomeUnknownActor
	OutcomeBackendError = dispatch.OutcomeBackendError

	ReasonRateLimited = notify.ReasonRateLimited
	ReasonBusy        = notify.ReasonBusy

	StateBackendMemory = configpkg.StateBackendMemory
	StateBackendRedis  = configpkg.StateBackendRedis
)

var (
	NewService         = runtimepkg.NewService
	Run                = runtimepkg.Run
	NewPipelineMetrics = runtimepkg.NewPipelineMetrics

	DefaultConfig          = configpkg.Defaults
	LoadConfig             = configpkg.Load
	LoadConfigWithDefaults = configpkg.LoadWithDefaults
	ValidateConfig         = configpkg.ValidateConfig

	LoggingHooks  = dispatch.LoggingHooks
	MetricsHooks  = dispatch.MetricsHooks
	AlertingHooks = dispatch.AlertingHooks

	NewNotificationPublisher = notify.NewPublisher
	NewThrottledNotifier     = notify.NewThrottled

	OpenKVStore = kvstore.Open

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build
	GetCapabilities          = transport.GetCapabilities
	DefaultTransportFactory  = transportpkg.DefaultFactory

	EventFromMessage = event.FromMessage
	EventToMessage   = event.ToMessage

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode

	ErrConfigRequired  = errspkg.ErrConfigRequired
	ErrLoggerRequired  = errspkg.ErrLoggerRequired
	ErrHandlerRequired = errspkg.ErrHandlerRequired
	ErrAlreadyStarted  = errspkg.ErrAlreadyStarted
	ErrQueueFull       = errspkg.ErrQueueFull
	ErrQueueClosed     = errspkg.ErrQueueClosed
	ErrUnknownActor    = errspkg.ErrUnknownActor
	ErrRateLimited     = errspkg.ErrRateLimited
	ErrBusy            = errspkg.ErrBusy
	ErrHandlerFailure  = errspkg.ErrHandlerFailure
	ErrHandlerTimeout  = errspkg.ErrHandlerTimeout
	ErrCancelled       = errspkg.ErrCancelled
	ErrNotifyThrottled = errspkg.ErrNotifyThrottled
	ErrKeyNotFound     = kvstore.ErrNotFound

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter

	// NewEventID generates a unique, time-ordered event ID.
	NewEventID = idspkg.NewEventID
)

// NewEvent builds an event originated by actor with a fresh id.
func NewEvent(actor ActorID, payload []byte) Event {
	return event.New(idspkg.NewEventID(), actor, payload)
}

// NewCallbackEvent builds an event for a UI interaction that expects an
// acknowledgment routed back through token.
func NewCallbackEvent(actor ActorID, token string, payload []byte) Event {
	return NewEvent(actor, payload).WithInteraction(token)
}

// EventTime returns the creation time encoded in an id produced by
// NewEventID.
func EventTime(id string) (time.Time, bool) {
	return idspkg.Timestamp(id)
}
