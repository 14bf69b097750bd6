package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents internal error codes for voicelink operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Decode errors, never fatal to a connection
	ErrCodeUnknownOp ErrorCode = 1000
	ErrCodeMalformed ErrorCode = 1001

	// Connection errors, trigger a reconnect
	ErrCodeHandshakeFailed ErrorCode = 2000
	ErrCodeReadTimeout     ErrorCode = 2001
	ErrCodeUnexpectedClose ErrorCode = 2002
	ErrCodeWriteFailed     ErrorCode = 2003
	ErrCodeUnauthorized    ErrorCode = 2004
	ErrCodeNodeFailed      ErrorCode = 2005

	// Pool errors, returned to the caller
	ErrCodeNoAvailableNode ErrorCode = 3000
	ErrCodeUnknownGuild    ErrorCode = 3001
	ErrCodeUnknownNode     ErrorCode = 3002
	ErrCodeClosed          ErrorCode = 3003
	ErrCodeInvalidCommand  ErrorCode = 3004

	// Queue diagnostics
	ErrCodeQueueOverflow ErrorCode = 4000

	// REST errors
	ErrCodeHTTPStatus    ErrorCode = 5000
	ErrCodeHTTPTransport ErrorCode = 5001
	ErrCodeRateLimited   ErrorCode = 5002

	ErrCodeInternal ErrorCode = 9000
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:              "ok",
	ErrCodeUnknownOp:       "unknown_op",
	ErrCodeMalformed:       "malformed",
	ErrCodeHandshakeFailed: "handshake_failed",
	ErrCodeReadTimeout:     "read_timeout",
	ErrCodeUnexpectedClose: "unexpected_close",
	ErrCodeWriteFailed:     "write_failed",
	ErrCodeUnauthorized:    "unauthorized",
	ErrCodeNodeFailed:      "node_failed",
	ErrCodeNoAvailableNode: "no_available_node",
	ErrCodeUnknownGuild:    "unknown_guild",
	ErrCodeUnknownNode:     "unknown_node",
	ErrCodeClosed:          "closed",
	ErrCodeInvalidCommand:  "invalid_command",
	ErrCodeQueueOverflow:   "queue_overflow",
	ErrCodeHTTPStatus:      "http_status",
	ErrCodeHTTPTransport:   "http_transport",
	ErrCodeRateLimited:     "rate_limited",
	ErrCodeInternal:        "internal",
}

// String returns a snake_case name suitable for metric labels
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code_%d", int(c))
}

// Error represents a structured error with code and context
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code, so the sentinels below work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates a new Error
func New(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is.
var (
	ErrUnknownOp       = &Error{Code: ErrCodeUnknownOp, Message: "unknown operation code"}
	ErrMalformed       = &Error{Code: ErrCodeMalformed, Message: "malformed payload"}
	ErrHandshakeFailed = &Error{Code: ErrCodeHandshakeFailed, Message: "handshake failed"}
	ErrReadTimeout     = &Error{Code: ErrCodeReadTimeout, Message: "read timeout"}
	ErrUnexpectedClose = &Error{Code: ErrCodeUnexpectedClose, Message: "unexpected close"}
	ErrUnauthorized    = &Error{Code: ErrCodeUnauthorized, Message: "unauthorized"}
	ErrNodeFailed      = &Error{Code: ErrCodeNodeFailed, Message: "node failed"}
	ErrNoAvailableNode = &Error{Code: ErrCodeNoAvailableNode, Message: "no available node"}
	ErrUnknownGuild    = &Error{Code: ErrCodeUnknownGuild, Message: "unknown guild"}
	ErrUnknownNode     = &Error{Code: ErrCodeUnknownNode, Message: "unknown node"}
	ErrClosed          = &Error{Code: ErrCodeClosed, Message: "closed"}
	ErrQueueOverflow   = &Error{Code: ErrCodeQueueOverflow, Message: "queue overflow"}
	ErrRateLimited     = &Error{Code: ErrCodeRateLimited, Message: "rate limited"}
)

// Convenience constructors for common errors

func UnknownOp(op string) *Error {
	return New(ErrCodeUnknownOp, fmt.Sprintf("unknown operation code %q", op), nil).
		WithDetail("op", op)
}

func Malformed(op string, cause error) *Error {
	return New(ErrCodeMalformed, fmt.Sprintf("malformed %q payload", op), cause).
		WithDetail("op", op)
}

func MissingField(op, field string) *Error {
	return New(ErrCodeMalformed, fmt.Sprintf("malformed %q payload: missing %s", op, field), nil).
		WithDetail("op", op).
		WithDetail("field", field)
}

func HandshakeFailed(address string, cause error) *Error {
	return New(ErrCodeHandshakeFailed, fmt.Sprintf("handshake with %s failed", address), cause).
		WithDetail("address", address)
}

func Unauthorized(address string) *Error {
	return New(ErrCodeUnauthorized, fmt.Sprintf("the authorization used to connect to node %s is invalid", address), nil).
		WithDetail("address", address)
}

func ReadTimeout(cause error) *Error {
	return New(ErrCodeReadTimeout, "no frame or pong received within the read timeout", cause)
}

func UnexpectedClose(cause error) *Error {
	return New(ErrCodeUnexpectedClose, "connection closed unexpectedly", cause)
}

func WriteFailed(cause error) *Error {
	return New(ErrCodeWriteFailed, "failed to write frame", cause)
}

func NodeFailed(nodeID string, attempts int, cause error) *Error {
	return New(ErrCodeNodeFailed, fmt.Sprintf("node %s failed after %d consecutive reconnect attempts", nodeID, attempts), cause).
		WithDetail("node_id", nodeID).
		WithDetail("attempts", attempts)
}

func NoAvailableNode(guildID string) *Error {
	return New(ErrCodeNoAvailableNode, "no connected node available", nil).
		WithDetail("guild_id", guildID)
}

func UnknownGuild(guildID string) *Error {
	return New(ErrCodeUnknownGuild, fmt.Sprintf("no active player for guild %s", guildID), nil).
		WithDetail("guild_id", guildID)
}

func UnknownNode(nodeID string) *Error {
	return New(ErrCodeUnknownNode, fmt.Sprintf("unknown node %s", nodeID), nil).
		WithDetail("node_id", nodeID)
}

func Closed(what string) *Error {
	return New(ErrCodeClosed, fmt.Sprintf("%s is closed", what), nil)
}

func InvalidCommand(message string) *Error {
	return New(ErrCodeInvalidCommand, message, nil)
}

func QueueOverflow(nodeID string, capacity int) *Error {
	return New(ErrCodeQueueOverflow, fmt.Sprintf("pending queue of node %s full (%d), dropped oldest command", nodeID, capacity), nil).
		WithDetail("node_id", nodeID).
		WithDetail("capacity", capacity)
}

func HTTPStatus(url string, status int, body string) *Error {
	return New(ErrCodeHTTPStatus, fmt.Sprintf("request to %s returned status %d", url, status), nil).
		WithDetail("url", url).
		WithDetail("status", status).
		WithDetail("body", body)
}

func HTTPTransport(url string, cause error) *Error {
	return New(ErrCodeHTTPTransport, fmt.Sprintf("request to %s failed", url), cause).
		WithDetail("url", url)
}

func RateLimited(cause error) *Error {
	return New(ErrCodeRateLimited, "rest request rate limited", cause)
}

// IsError checks if an error is an *Error
func IsError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsDecodeError reports whether err is a non-fatal frame decoding error.
func IsDecodeError(err error) bool {
	code := GetCode(err)
	return code == ErrCodeUnknownOp || code == ErrCodeMalformed
}
