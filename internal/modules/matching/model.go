// README: Dispatch bookkeeping types and tuning constants.
package matching

import (
	"time"

	"rideflow/internal/types"
)

// Dispatch is the record kept for a ride offer fan-out.
type Dispatch struct {
	RideID       types.ID
	Candidates   []types.ID
	Notified     []types.ID
	DispatchedAt time.Time
}

const (
	// broadcastBatch bounds how many rides one widen tick handles.
	broadcastBatch = 50
	// keyTTL bounds dispatch bookkeeping; rides resolve long before it.
	keyTTL = 24 * time.Hour
)
