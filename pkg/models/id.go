package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a sortable unique identifier: a UTC timestamp followed
// by a short random suffix, e.g. "20260824-153012-a3f9c1". Used for
// session, project, and decision IDs.
func NewID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return time.Now().UTC().Format("20060102-150405") + "-" + suffix
}
