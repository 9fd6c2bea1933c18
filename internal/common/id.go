package common

import (
	"github.com/google/uuid"
)

// NewJobKey generates a unique job key with the "job_" prefix
// Format: job_<uuid>
func NewJobKey() string {
	return "job_" + uuid.New().String()
}

// NewResultKey generates a unique destination key for a job's output.
// Format: <prefix>_<uuid>, or result_<uuid> when prefix is empty.
func NewResultKey(prefix string) string {
	if prefix == "" {
		prefix = "result"
	}
	return prefix + "_" + uuid.New().String()
}

// NewNodeSalt generates a node-scoped salt used to colocate progress keys
// with the node that owns them
func NewNodeSalt() string {
	return uuid.New().String()[:8]
}
