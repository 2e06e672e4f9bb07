// Package feederr classifies the failures of feed fetching and remote synchronization.
package feederr

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
)

// Kind is the category of a sync failure.
type Kind int

const (
	Unknown Kind = iota
	Network
	Format
	Parse
	Conflict
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Network:
		return "network error"
	case Format:
		return "format error"
	case Parse:
		return "parse error"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not found"
	default:
		return "unknown error"
	}
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrap classifies err with KindOf and wraps it. A nil err stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}

// StatusError is returned when a remote answered with an unexpected HTTP status.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, e.Status)
}

// FromStatus maps an HTTP status to a classified error.
func FromStatus(op string, code int, status string) *Error {
	return New(KindForStatus(code), op, &StatusError{Code: code, Status: status})
}

// KindForStatus maps remote HTTP statuses to kinds.
func KindForStatus(code int) Kind {
	switch {
	case code == http.StatusNotFound:
		return NotFound
	case code == http.StatusConflict:
		return Conflict
	case code == http.StatusUnprocessableEntity:
		return Format
	case code >= 500:
		return Network
	default:
		return Unknown
	}
}

// KindOf returns the kind of err. Classified errors keep their kind;
// transport failures are Network and decoding failures are Parse.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var se *StatusError
	if errors.As(err, &se) {
		return KindForStatus(se.Code)
	}
	if IsNetwork(err) {
		return Network
	}
	var (
		xmlErr  *xml.SyntaxError
		jsonErr *json.SyntaxError
		typeErr *json.UnmarshalTypeError
	)
	if errors.As(err, &xmlErr) || errors.As(err, &jsonErr) || errors.As(err, &typeErr) {
		return Parse
	}
	return Unknown
}

// IsNetwork reports whether err comes from the transport rather than the content.
func IsNetwork(err error) bool {
	var (
		netErr net.Error
		urlErr *url.Error
		opErr  *net.OpError
	)
	switch {
	case errors.As(err, &opErr), errors.As(err, &netErr), errors.As(err, &urlErr):
		return true
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED):
		return true
	}
	return false
}

// Is reports whether err has the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
