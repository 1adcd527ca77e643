// Package constants defines application-wide constants for timeouts, limits, and statuses.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteWait is the deadline for a single WebSocket write
	WebSocketWriteWait = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Call-related constants
const (
	// CallRingTimeout is how long an unanswered call rings before it
	// auto-resolves to no_answer
	CallRingTimeout = 30 * time.Second

	// CallStatusMissed is the pessimistic default recorded at call start
	CallStatusMissed = "missed"

	// CallStatusAccepted indicates the callee answered
	CallStatusAccepted = "accepted"

	// CallStatusRejected indicates the callee declined
	CallStatusRejected = "rejected"

	// CallStatusEnded indicates the call has concluded
	CallStatusEnded = "ended"

	// CallStatusRinging is the transient status broadcast while ringing
	CallStatusRinging = "ringing"

	// CallStatusNoAnswer is the caller-facing status for an unanswered call
	CallStatusNoAnswer = "no_answer"

	// CallTypeAudio and CallTypeVideo are the supported call media types
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

// WebSocket buffer constants
const (
	// WebSocketReadBufferSize is the read buffer size for upgraded connections
	WebSocketReadBufferSize = 1024

	// WebSocketWriteBufferSize is the write buffer size for upgraded connections
	WebSocketWriteBufferSize = 1024

	// ClientSendBufferSize is the per-client outbound event buffer
	ClientSendBufferSize = 256
)

// Pagination constants
const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 20

	// MaxPageSize is the maximum number of items per page
	MaxPageSize = 100
)

// Presence constants
const (
	// PresenceTTL is how long a user stays online without a heartbeat
	PresenceTTL = 2 * time.Minute
)
