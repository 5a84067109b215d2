// SPDX-License-Identifier: MIT
package drive

import (
	"errors"
	"fmt"
)

// Sentinel errors for Drive operations.
var (
	ErrNotFound    = errors.New("file not found in drive")
	ErrInvalidRole = errors.New("invalid sharing role")
	ErrAuth        = errors.New("drive authentication failed")
)

// OpError wraps a Drive failure with the operation and file involved.
type OpError struct {
	Op   string // "list", "download", "upload", "create", "share"
	Name string // file name or ID when known
	Err  error
}

func (e *OpError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("drive %s %q: %v", e.Op, e.Name, e.Err)
	}
	return fmt.Sprintf("drive %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
