package memorycore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultLeaseTTL is the spec's literal lease TTL: 30 seconds, for both
// the initial acquire and each heartbeat extension.
const DefaultLeaseTTL = 30 * time.Second

// leaseManager is the shared lease primitive used by ObservationEngine and
// ReflectionEngine: it acquires/heartbeats/releases the DB-stored lease on
// an ObservationalMemory record, and tracks in-flight async operations in
// a process-local map consulted by the stale-flag sweep. The map is
// purely advisory (§5): it only prevents the sweep from prematurely
// clearing flags for operations owned by this process.
type leaseManager struct {
	store  ObservationalMemoryStore
	clock  interface{ Now() time.Time }
	ownerID string

	inFlight sync.Map // recordID -> struct{}
}

func newLeaseManager(store ObservationalMemoryStore, clk interface{ Now() time.Time }, ownerID string) *leaseManager {
	return &leaseManager{store: store, clock: clk, ownerID: ownerID}
}

// acquire attempts to take the lease on recordID, returning the
// operation id on success. Conflict (another live owner) returns
// ErrConflict, which callers in the observation/reflection paths treat as
// a silent skip.
func (lm *leaseManager) acquire(ctx context.Context, recordID string) (string, error) {
	opID, err := lm.store.AcquireLease(ctx, recordID, lm.ownerID, lm.clock.Now(), DefaultLeaseTTL)
	if err != nil {
		return "", err
	}
	lm.inFlight.Store(recordID, struct{}{})
	return opID, nil
}

// heartbeat extends the lease, conditional on still owning (ownerID, opID).
func (lm *leaseManager) heartbeat(ctx context.Context, recordID, opID string) (bool, error) {
	return lm.store.HeartbeatLease(ctx, recordID, lm.ownerID, opID, lm.clock.Now(), DefaultLeaseTTL)
}

// release clears the lease and this process's in-flight marker.
func (lm *leaseManager) release(ctx context.Context, recordID, opID string) error {
	lm.inFlight.Delete(recordID)
	if err := lm.store.ReleaseLease(ctx, recordID, lm.ownerID, opID); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// hasLocalInFlight reports whether this process has a registered
// in-flight operation for recordID (the stale-flag sweep's sole signal
// for whether a flag is orphaned or merely in progress locally).
func (lm *leaseManager) hasLocalInFlight(recordID string) bool {
	_, ok := lm.inFlight.Load(recordID)
	return ok
}

// markInFlight registers recordID as having an in-flight async op
// (used by the buffered-observation path, which does not itself hold the
// lease while the observer call is running concurrently).
func (lm *leaseManager) markInFlight(recordID string) {
	lm.inFlight.Store(recordID, struct{}{})
}

// clearInFlight unregisters recordID.
func (lm *leaseManager) clearInFlight(recordID string) {
	lm.inFlight.Delete(recordID)
}

// sweepStaleFlags is the stale-flag sweep run at the start of every step
// (§4.5): if a buffering/reflecting flag is set but no in-flight op is
// registered locally for this record, clear it; if the lease has expired
// and no in-flight op is registered, clear the lease tuple. Best-effort:
// it must never raise.
func (lm *leaseManager) sweepStaleFlags(ctx context.Context, rec *ObservationalMemory) {
	now := lm.clock.Now()
	localInFlight := lm.hasLocalInFlight(rec.ID)

	if rec.IsBufferingObservation && !localInFlight {
		rec.IsBufferingObservation = false
		rec.LastBufferedAtTime = nil
	}
	if rec.IsBufferingReflection && !localInFlight {
		rec.IsBufferingReflection = false
	}

	if rec.Lease.Held() && rec.Lease.ExpiresAt.Before(now) && !localInFlight {
		rec.Lease = Lease{}
		if err := lm.store.SweepStaleLease(ctx, rec.ID, now); err != nil {
			// best-effort: swallow, the in-memory clear above still lets
			// this process proceed; a future sweep (here or elsewhere)
			// will retry the persisted clear.
			return
		}
	}
}
