// SPDX-License-Identifier: MIT

package seqta

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrUnauthorized        = errors.New("seqta: credentials rejected")
	ErrNotFound            = errors.New("seqta: resource not found")
	ErrUpstreamUnavailable = errors.New("seqta: host unreachable or transport failure")
	ErrUpstreamError       = errors.New("seqta: internal error (5xx)")
	ErrBadResponse         = errors.New("seqta: invalid response format or malformed data")
	ErrTimeout             = errors.New("seqta: request timed out")
)

// FeedError is a rich error type that wraps the sentinel errors with context.
type FeedError struct {
	Sentinel  error
	Operation string
	Status    int
	Err       error // nested lower-level error (e.g. net.Error)
}

func (e *FeedError) Error() string {
	msg := fmt.Sprintf("seqta: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FeedError) Unwrap() error {
	return e.Sentinel
}
