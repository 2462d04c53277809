// Package aerr defines the stable error domain type used across bytefold.
//
// Components should create an *Error at the system boundary (a malformed
// header, a failed I/O call, a resource-limit exceedance) and let it flow up
// unwrapped except to add context with fmt.Errorf's "%w" verb. Intermediate
// layers should not wrap one *Error in another.
package aerr

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Kind is a coarse error taxonomy, per spec §7.
type Kind string

// Defined error kinds.
const (
	KindFormat        Kind = "format"            // malformed headers, bad magic, truncation
	KindUnsupported   Kind = "unsupported"        // recognized but unimplemented feature
	KindIntegrity     Kind = "integrity"          // CRC/hash/check mismatches
	KindResourceLimit Kind = "resource_limit"      // configured limit exceeded
	KindHTTP          Kind = "http"               // snapshot/range/encoding/status errors
	KindPathSafety    Kind = "path_safety"        // traversal, name collisions
	KindCancelled     Kind = "cancelled"          // operation was cancelled
	KindInternal      Kind = "internal"           // invariant violated; should be impossible
)

// Error implements the error interface.
func (k Kind) Error() string { return string(k) }

// Error is the bytefold error domain type.
//
// It carries a stable machine-readable Code (the spec's "stable code"), a
// Kind for coarse-grained errors.Is checks, a human Message, optional entry
// name and byte offset, and a sanitized Context map for logging.
type Error struct {
	Code    string
	Kind    Kind
	Message string
	Op      string
	Entry   string
	Offset  *uint64
	Context map[string]string
	Inner   error
}

var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString("[")
	b.WriteString(e.Code)
	b.WriteString("] ")
	b.WriteString(e.Message)
	if e.Entry != "" {
		b.WriteString(" (entry ")
		b.WriteString(strconv.Quote(e.Entry))
		b.WriteString(")")
	}
	if e.Inner != nil {
		b.WriteString(": ")
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables errors.Is against a Kind.
func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	return errors.Is(e.Kind, target)
}

// Unwrap enables errors.Unwrap / errors.As against Inner.
func (e *Error) Unwrap() error { return e.Inner }

// WithContext returns a copy of e with the given context key/value set.
//
// Keys that shadow top-level fields ("code", "message", "entryName",
// "offset", "op") are dropped per spec §4.14's sanitization rule.
func (e *Error) WithContext(key, value string) *Error {
	ne := *e
	ne.Context = cloneContext(e.Context)
	switch key {
	case "code", "message", "entryName", "offset", "op":
		return &ne
	}
	if ne.Context == nil {
		ne.Context = make(map[string]string, 1)
	}
	ne.Context[key] = value
	return &ne
}

func cloneContext(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	n := make(map[string]string, len(m))
	for k, v := range m {
		n[k] = v
	}
	return n
}

// New constructs an *Error.
func New(code string, kind Kind, op, message string) *Error {
	return &Error{Code: code, Kind: kind, Op: op, Message: message}
}

// Wrap constructs an *Error wrapping an underlying cause.
func Wrap(code string, kind Kind, op, message string, cause error) *Error {
	return &Error{Code: code, Kind: kind, Op: op, Message: message, Inner: cause}
}

// schemaVersion is the stable serialization schema version for all reports
// and errors emitted by this module, per spec §3/§4.14.
const schemaVersion = "1"

// jsonError is the wire shape for a serialized *Error.
type jsonError struct {
	SchemaVersion string            `json:"schemaVersion"`
	Code          string            `json:"code"`
	Kind          string            `json:"kind"`
	Message       string            `json:"message"`
	EntryName     string            `json:"entryName,omitempty"`
	Offset        string            `json:"offset,omitempty"`
	Context       map[string]string `json:"context,omitempty"`
}

// MarshalJSON implements the stable, schema-versioned serialization from
// spec §4.14/§7: offsets and any numeric context values large enough to lose
// precision in a float64 (>2^53) are always carried as decimal strings.
func (e *Error) MarshalJSON() ([]byte, error) {
	je := jsonError{
		SchemaVersion: schemaVersion,
		Code:          e.Code,
		Kind:          string(e.Kind),
		Message:       e.Message,
		EntryName:     e.Entry,
		Context:       sanitizeContext(e.Context),
	}
	if e.Offset != nil {
		je.Offset = strconv.FormatUint(*e.Offset, 10)
	}
	return json.Marshal(je)
}

// sanitizeContext removes keys shadowed by top-level fields.
func sanitizeContext(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch k {
		case "code", "message", "entryName", "offset", "op", "schemaVersion", "kind":
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// MaxSafeInteger is the largest integer exactly representable in a float64;
// numeric fields beyond this must be serialized as decimal strings.
const MaxSafeInteger uint64 = 1<<53 - 1

// FormatNumeric renders n as a JSON-safe value: a number when it's at or
// below MaxSafeInteger, else a quoted decimal string.
func FormatNumeric(n uint64) interface{} {
	if n > MaxSafeInteger {
		return strconv.FormatUint(n, 10)
	}
	return n
}
