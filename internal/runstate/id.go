package runstate

import "github.com/google/uuid"

// NewRunID mints a short, random run identifier: the first 8 hex characters
// of a fresh UUIDv4, matching the width the worktree manager and directory
// layout expect.
func NewRunID() string {
	return uuid.New().String()[:8]
}
