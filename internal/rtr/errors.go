package rtr

import (
	"errors"
	"fmt"

	"github.com/dgnsrekt/rtr-relay/internal/payload"
)

// ErrCorrupt is returned when the data received from the server cannot be
// applied or does not follow the protocol.
var ErrCorrupt = errors.New("corrupt data")

// ErrorCode is the code of an Error Report PDU.
type ErrorCode uint16

const (
	CodeCorruptData           ErrorCode = 0
	CodeInternalError         ErrorCode = 1
	CodeNoDataAvailable       ErrorCode = 2
	CodeInvalidRequest        ErrorCode = 3
	CodeUnsupportedVersion    ErrorCode = 4
	CodeUnsupportedPDUType    ErrorCode = 5
	CodeWithdrawalOfUnknown   ErrorCode = 6
	CodeDuplicateAnnouncement ErrorCode = 7
	CodeUnexpectedVersion     ErrorCode = 8
)

func (c ErrorCode) String() string {
	switch c {
	case CodeCorruptData:
		return "corrupt data"
	case CodeInternalError:
		return "internal error"
	case CodeNoDataAvailable:
		return "no data available"
	case CodeInvalidRequest:
		return "invalid request"
	case CodeUnsupportedVersion:
		return "unsupported protocol version"
	case CodeUnsupportedPDUType:
		return "unsupported PDU type"
	case CodeWithdrawalOfUnknown:
		return "withdrawal of unknown record"
	case CodeDuplicateAnnouncement:
		return "duplicate announcement"
	case CodeUnexpectedVersion:
		return "unexpected protocol version"
	default:
		return fmt.Sprintf("error code %d", uint16(c))
	}
}

// ErrorReport is an error reported by the server.
type ErrorReport struct {
	Code ErrorCode
	Text string
}

func (e *ErrorReport) Error() string {
	if e.Text == "" {
		return "server reported " + e.Code.String()
	}
	return fmt.Sprintf("server reported %s: %s", e.Code, e.Text)
}

// Kind tells the caller whether reconnecting can help.
type Kind int

const (
	Recoverable Kind = iota
	Fatal
)

func (k Kind) String() string {
	if k == Fatal {
		return "fatal"
	}
	return "recoverable"
}

// Error is a classified protocol error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s protocol error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is a protocol error that reconnecting will
// not fix. Transport errors are never fatal.
func IsFatal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == Fatal
}

func corruptf(format string, args ...any) error {
	return &Error{Kind: Recoverable, Err: fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))}
}

// classifyReport turns a server error report into a protocol error.
func classifyReport(report *ErrorReport) error {
	kind := Recoverable
	switch report.Code {
	case CodeUnsupportedVersion, CodeUnsupportedPDUType:
		kind = Fatal
	}
	return &Error{Kind: kind, Err: report}
}

// codeFor picks the error code to report for a failed update.
func codeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, payload.ErrAbsent):
		return CodeWithdrawalOfUnknown
	case errors.Is(err, payload.ErrDuplicate):
		return CodeDuplicateAnnouncement
	default:
		return CodeCorruptData
	}
}
