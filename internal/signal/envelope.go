package signal

import (
	"time"

	"github.com/openrisk/kestrel/internal/domain"
)

// snapshotEnvelope is the cache wire form of a snapshot. Velocity windows are
// keyed by whole seconds so the payload stays stable across serializations.
type snapshotEnvelope struct {
	domain.ContextSnapshot
	Windows map[int64]domain.WindowStats `json:"windows,omitempty"`
}

func newSnapshotEnvelope(snap *domain.ContextSnapshot) *snapshotEnvelope {
	env := &snapshotEnvelope{ContextSnapshot: *snap}
	if len(snap.Velocity) > 0 {
		env.Windows = make(map[int64]domain.WindowStats, len(snap.Velocity))
		for w, stats := range snap.Velocity {
			env.Windows[int64(w/time.Second)] = stats
		}
	}
	env.Velocity = nil
	return env
}

func (e *snapshotEnvelope) toSnapshot() *domain.ContextSnapshot {
	snap := e.ContextSnapshot
	snap.Velocity = make(map[time.Duration]domain.WindowStats, len(e.Windows))
	for secs, stats := range e.Windows {
		snap.Velocity[time.Duration(secs)*time.Second] = stats
	}
	return &snap
}
