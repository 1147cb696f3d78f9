package floodline

import (
	envelopepkg "github.com/streamhaus/floodline/internal/harness/envelope"
	errspkg "github.com/streamhaus/floodline/internal/harness/errors"
	idspkg "github.com/streamhaus/floodline/internal/harness/ids"
	jsoncodec "github.com/streamhaus/floodline/internal/harness/jsoncodec"
	loggingpkg "github.com/streamhaus/floodline/internal/harness/logging"

	harnesspkg "github.com/streamhaus/floodline/internal/harness"
	configpkg "github.com/streamhaus/floodline/internal/harness/config"
	transportpkg "github.com/streamhaus/floodline/transport"
)

type (
	Config = configpkg.Config

	// Run orchestration
	Supervisor     = harnesspkg.Supervisor
	Report         = harnesspkg.Report
	Producer       = harnesspkg.Producer
	ProducerConfig = harnesspkg.ProducerConfig
	Consumer       = harnesspkg.Consumer
	ConsumerConfig = harnesspkg.ConsumerConfig
	Daemon         = harnesspkg.Daemon
	State          = harnesspkg.State
	StopPolicy     = harnesspkg.StopPolicy

	// Run state and statistics
	RunContext     = harnesspkg.RunContext
	DuplicateSet   = harnesspkg.DuplicateSet
	Stats          = harnesspkg.Stats
	Snapshot       = harnesspkg.Snapshot
	LatencySummary = harnesspkg.LatencySummary
	Metrics        = harnesspkg.Metrics
	ResourceUsage  = harnesspkg.ResourceUsage

	// Broker session contracts
	Broker           = harnesspkg.Broker
	SendSession      = harnesspkg.SendSession
	ReadSession      = harnesspkg.ReadSession
	Receipt          = harnesspkg.Receipt
	SendReceipt      = harnesspkg.SendReceipt
	PendingRead      = harnesspkg.PendingRead
	ReadFuture       = harnesspkg.ReadFuture
	Delivery         = harnesspkg.Delivery
	SendResult       = harnesspkg.SendResult
	SendStatus       = harnesspkg.SendStatus
	StatusClassifier = harnesspkg.StatusClassifier
	WatermillBroker  = harnesspkg.WatermillBroker
	BrokerOptions    = harnesspkg.BrokerOptions

	// Wire format
	Envelope = envelopepkg.Envelope

	// Logging
	LogFields = loggingpkg.LogFields
	Logger    = loggingpkg.Logger

	// Modular transport types
	Transport                = transportpkg.Transport
	TransportBuilder         = transportpkg.Builder
	TransportConfig          = transportpkg.Config
	TransportRegistry        = transportpkg.Registry
	TransportCapabilities    = transportpkg.Capabilities
	TransportProvisioner     = transportpkg.Provisioner
	TransportQueueIntrospect = transportpkg.QueueIntrospector
)

const (
	SendOK        = harnesspkg.SendOK
	SendThrottled = harnesspkg.SendThrottled
	SendFailed    = harnesspkg.SendFailed

	StateCreated  = harnesspkg.StateCreated
	StateRunning  = harnesspkg.StateRunning
	StateStopping = harnesspkg.StateStopping
	StateStopped  = harnesspkg.StateStopped

	StopAbandon = harnesspkg.StopAbandon
	StopDrain   = harnesspkg.StopDrain

	DefaultMaxInflight   = harnesspkg.DefaultMaxInflight
	DefaultMaxAttempts   = harnesspkg.DefaultMaxAttempts
	DefaultRetryDelay    = harnesspkg.DefaultRetryDelay
	DefaultAwaitInterval = harnesspkg.DefaultAwaitInterval
	DefaultReadTimeout   = harnesspkg.DefaultReadTimeout
	DefaultStopTimeout   = harnesspkg.DefaultStopTimeout

	EnvelopeHeaderSize = envelopepkg.HeaderSize
)

var (
	NewSupervisor = harnesspkg.NewSupervisor
	NewProducer   = harnesspkg.NewProducer
	NewConsumer   = harnesspkg.NewConsumer

	NewRunContext   = harnesspkg.NewRunContext
	NewDuplicateSet = harnesspkg.NewDuplicateSet
	NewStats        = harnesspkg.NewStats

	// Broker assembly
	NewWatermillBroker    = harnesspkg.NewWatermillBroker
	NewSendReceipt        = harnesspkg.NewSendReceipt
	NewReadFuture         = harnesspkg.NewReadFuture
	NewRateLimitedSession = harnesspkg.NewRateLimitedSession
	NewBreakerSession     = harnesspkg.NewBreakerSession
	DefaultClassifier     = harnesspkg.DefaultClassifier

	// Metrics
	NewMetrics         = harnesspkg.NewMetrics
	StartMetricsServer = harnesspkg.StartMetricsServer

	// Config
	LoadConfig = configpkg.Load

	// Wire format
	DecodeEnvelope = envelopepkg.Decode

	// Logging
	NewSlogLogger      = loggingpkg.NewSlogLogger
	NewWatermillLogger = loggingpkg.NewWatermillLogger
	NopLogger          = loggingpkg.Nop
	ToWatermillLogger  = loggingpkg.ToWatermill

	// Identifiers
	NewULID  = idspkg.NewULID
	NewRunID = idspkg.NewRunID

	// JSON helpers used for report output
	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode

	// Modular transport registry
	// Import individual transports via: _ "github.com/streamhaus/floodline/transport/kafka"
	DefaultTransportRegistry = transportpkg.DefaultRegistry
	RegisterTransport        = transportpkg.Register
	BuildTransport           = transportpkg.Build
	GetTransportCapabilities = transportpkg.GetCapabilities
	TransportProvisionerOf   = transportpkg.ProvisionerOf
	TransportIntrospectorOf  = transportpkg.IntrospectorOf

	ErrThrottled           = errspkg.ErrThrottled
	ErrBreakerOpen         = errspkg.ErrBreakerOpen
	ErrAwaitTimeout        = errspkg.ErrAwaitTimeout
	ErrAttemptsExhausted   = errspkg.ErrAttemptsExhausted
	ErrSessionClosed       = errspkg.ErrSessionClosed
	ErrAckFailed           = errspkg.ErrAckFailed
	ErrAlreadyStarted      = errspkg.ErrAlreadyStarted
	ErrStopTimeout         = errspkg.ErrStopTimeout
	ErrDestinationRequired = errspkg.ErrDestinationRequired
	ErrRunContextRequired  = errspkg.ErrRunContextRequired
	ErrBrokerRequired      = errspkg.ErrBrokerRequired
	ErrLoggerRequired      = errspkg.ErrLoggerRequired
)
