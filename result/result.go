// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package result defines the result codes returned by every application-facing
// vrbridge call and the sentinel errors that carry them.
//
// Errors returned by vrbridge packages wrap one of the sentinels below, so
// callers can match with errors.Is or collapse any error to a Code with Of.
package result

import "errors"

// Code is a result code from the vrbridge error taxonomy.
type Code int

// Result codes.
const (
	// Success is returned for a nil error.
	Success Code = iota
	InvalidHandle
	InvalidArgument
	UnsupportedFormat
	OutOfMemory
	ResourceExhausted
	TooManyCommits
	OutOfOrderFrame
	CallOutOfOrder
	InvalidLayerSource
	Timeout
	LostDevice
	// Unknown is returned for errors outside the taxonomy.
	Unknown
)

// Sentinel errors, one per Code.
var (
	ErrInvalidHandle      = errors.New("vrbridge: invalid handle")
	ErrInvalidArgument    = errors.New("vrbridge: invalid argument")
	ErrUnsupportedFormat  = errors.New("vrbridge: unsupported format")
	ErrOutOfMemory        = errors.New("vrbridge: out of memory")
	ErrResourceExhausted  = errors.New("vrbridge: resource exhausted")
	ErrTooManyCommits     = errors.New("vrbridge: too many commits")
	ErrOutOfOrderFrame    = errors.New("vrbridge: out of order frame")
	ErrCallOutOfOrder     = errors.New("vrbridge: call out of order")
	ErrInvalidLayerSource = errors.New("vrbridge: invalid layer source")
	ErrTimeout            = errors.New("vrbridge: timeout")
	ErrLostDevice         = errors.New("vrbridge: lost device")
)

var sentinels = [...]struct {
	err  error
	code Code
}{
	{ErrInvalidHandle, InvalidHandle},
	{ErrInvalidArgument, InvalidArgument},
	{ErrUnsupportedFormat, UnsupportedFormat},
	{ErrOutOfMemory, OutOfMemory},
	{ErrResourceExhausted, ResourceExhausted},
	{ErrTooManyCommits, TooManyCommits},
	{ErrOutOfOrderFrame, OutOfOrderFrame},
	{ErrCallOutOfOrder, CallOutOfOrder},
	{ErrInvalidLayerSource, InvalidLayerSource},
	{ErrTimeout, Timeout},
	{ErrLostDevice, LostDevice},
}

// Of returns the Code carried by err.
// A nil error is Success; an error wrapping no sentinel is Unknown.
// When err wraps several sentinels the first one in taxonomy order wins.
func Of(err error) Code {
	if err == nil {
		return Success
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	return Unknown
}

// Err returns the sentinel error for c, or nil for Success and Unknown.
func (c Code) Err() error {
	for _, s := range sentinels {
		if s.code == c {
			return s.err
		}
	}
	return nil
}

// IsTerminal reports whether c ends the session.
func (c Code) IsTerminal() bool {
	return c == LostDevice
}

// String returns the code name.
func (c Code) String() string {
	switch c {
	case Success:
		return "Success"
	case InvalidHandle:
		return "InvalidHandle"
	case InvalidArgument:
		return "InvalidArgument"
	case UnsupportedFormat:
		return "UnsupportedFormat"
	case OutOfMemory:
		return "OutOfMemory"
	case ResourceExhausted:
		return "ResourceExhausted"
	case TooManyCommits:
		return "TooManyCommits"
	case OutOfOrderFrame:
		return "OutOfOrderFrame"
	case CallOutOfOrder:
		return "CallOutOfOrder"
	case InvalidLayerSource:
		return "InvalidLayerSource"
	case Timeout:
		return "Timeout"
	case LostDevice:
		return "LostDevice"
	default:
		return "Unknown"
	}
}
