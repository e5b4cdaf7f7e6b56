// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package vrbridge

import "github.com/gogpu/vrbridge/result"

// Result codes, re-exported from package result.
type Code = result.Code

const (
	Success            = result.Success
	InvalidHandle      = result.InvalidHandle
	InvalidArgument    = result.InvalidArgument
	UnsupportedFormat  = result.UnsupportedFormat
	OutOfMemory        = result.OutOfMemory
	ResourceExhausted  = result.ResourceExhausted
	TooManyCommits     = result.TooManyCommits
	OutOfOrderFrame    = result.OutOfOrderFrame
	CallOutOfOrder     = result.CallOutOfOrder
	InvalidLayerSource = result.InvalidLayerSource
	Timeout            = result.Timeout
	LostDevice         = result.LostDevice
	Unknown            = result.Unknown
)

// Sentinel errors wrapped by every Session method.
var (
	ErrInvalidHandle      = result.ErrInvalidHandle
	ErrInvalidArgument    = result.ErrInvalidArgument
	ErrUnsupportedFormat  = result.ErrUnsupportedFormat
	ErrOutOfMemory        = result.ErrOutOfMemory
	ErrResourceExhausted  = result.ErrResourceExhausted
	ErrTooManyCommits     = result.ErrTooManyCommits
	ErrOutOfOrderFrame    = result.ErrOutOfOrderFrame
	ErrCallOutOfOrder     = result.ErrCallOutOfOrder
	ErrInvalidLayerSource = result.ErrInvalidLayerSource
	ErrTimeout            = result.ErrTimeout
	ErrLostDevice         = result.ErrLostDevice
)

// ResultOf returns the result code carried by err: Success for nil,
// Unknown for errors outside the taxonomy.
func ResultOf(err error) Code { return result.Of(err) }
