// Package icserr defines the error-kind taxonomy shared by every ICS/FastTransfer
// component. ROPs never return these at the transport level -- they are carried in
// a reply's error_code field -- but the Go call chain surfaces them as ordinary
// wrapped errors so callers can use errors.Is/As.
package icserr

import "fmt"

// Kind is one of the error kinds from spec.md §7. It is comparable and
// intentionally has no string payload of its own: use fmt.Errorf("...: %w", Kind)
// to attach context.
type Kind int

const (
	NotInitialized Kind = iota + 1
	InvalidParameter
	InvalidObject
	NotFound
	NoAccess
	NoSupport
	NotEnoughMemory
	CallFailed
	IdSetMalformed
	UnsupportedType
	BackendError
	TransactionConflict
)

func (k Kind) String() string {
	switch k {
	case NotInitialized:
		return "NotInitialized"
	case InvalidParameter:
		return "InvalidParameter"
	case InvalidObject:
		return "InvalidObject"
	case NotFound:
		return "NotFound"
	case NoAccess:
		return "NoAccess"
	case NoSupport:
		return "NoSupport"
	case NotEnoughMemory:
		return "NotEnoughMemory"
	case CallFailed:
		return "CallFailed"
	case IdSetMalformed:
		return "IdSetMalformed"
	case UnsupportedType:
		return "UnsupportedType"
	case BackendError:
		return "BackendError"
	case TransactionConflict:
		return "TransactionConflict"
	default:
		return "Unknown"
	}
}

func (k Kind) Error() string { return k.String() }

// Wrap attaches a Kind to an underlying cause, preserving it for errors.Is(err, kind)
// and errors.As while keeping the cause's text in Error().
func Wrap(k Kind, cause error) error {
	if cause == nil {
		return k
	}
	return &wrapped{kind: k, cause: cause}
}

// New builds a Kind error with a formatted message, in place of a cause.
func New(k Kind, format string, args ...interface{}) error {
	return Wrap(k, fmt.Errorf(format, args...))
}

type wrapped struct {
	kind  Kind
	cause error
}

func (w *wrapped) Error() string { return fmt.Sprintf("%s: %s", w.kind, w.cause) }
func (w *wrapped) Unwrap() error { return w.cause }
func (w *wrapped) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == w.kind
}
