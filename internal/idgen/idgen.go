// Package idgen generates identifiers used for event ids, action ids,
// and echo correlation ids (resp_id). Backed by github.com/google/uuid,
// the same id library the teacher module uses for its own
// conversation/session identifiers.
package idgen

import "github.com/google/uuid"

// New returns a fresh random identifier suitable for an event id or an
// action's resp_id.
func New() string {
	return uuid.NewString()
}
