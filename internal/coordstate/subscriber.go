package coordstate

import (
	uuid "github.com/satori/go.uuid"
)

// newBatchID tags one sendUpdates fan-out with a correlation id so an
// operator grepping logs can tie every per-device send in a batch back to
// the task event that triggered it. Distinct from the hashicorp/go-uuid
// identifiers minted for task rows; this is purely a log-correlation value
// and is never persisted.
func newBatchID() string {
	return uuid.NewV4().String()
}
