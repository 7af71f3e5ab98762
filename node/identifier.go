package node

import (
	"strings"

	"github.com/google/uuid"
)

// NewIdentifier returns a random node identifier: a version 4 UUID without dashes.
func NewIdentifier() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
