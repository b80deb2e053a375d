package contextsync

import (
	"context"
	"sort"
	"time"
)

// ReplicaChecksums maps context keys to the checksum a participant replica
// currently holds for them.
type ReplicaChecksums map[string]string

// ConvergenceReport describes whether every participant replica agrees with
// the authoritative context of a conversation.
type ConvergenceReport struct {
	Converged bool `json:"converged"`
	// DivergentKeys maps participant ids to the keys whose checksums differ
	// from (or are missing relative to) the authoritative entries.
	DivergentKeys map[string][]string `json:"divergent_keys,omitempty"`
	CheckedAt     time.Time           `json:"checked_at"`
}

// Converged compares per-key checksums of each participant replica against
// the authoritative context map. Missing and stale keys both count as
// divergence.
func (s *InMemoryStore) Converged(conversationID string, replicas map[string]ReplicaChecksums) ConvergenceReport {
	authoritative := s.Entries(conversationID)
	report := ConvergenceReport{Converged: true, CheckedAt: time.Now().UTC()}

	for participant, replica := range replicas {
		var diverged []string
		for key, entry := range authoritative {
			if replica[key] != entry.Checksum {
				diverged = append(diverged, key)
			}
		}
		for key := range replica {
			if _, ok := authoritative[key]; !ok {
				diverged = append(diverged, key)
			}
		}
		if len(diverged) > 0 {
			sort.Strings(diverged)
			if report.DivergentKeys == nil {
				report.DivergentKeys = map[string][]string{}
			}
			report.DivergentKeys[participant] = diverged
			report.Converged = false
		}
	}
	return report
}

// ChecksumsOf reduces the authoritative entries of a conversation to their
// per-key checksums, the shape replicas report for convergence checks.
func (s *InMemoryStore) ChecksumsOf(conversationID string) ReplicaChecksums {
	entries := s.Entries(conversationID)
	sums := make(ReplicaChecksums, len(entries))
	for k, e := range entries {
		sums[k] = e.Checksum
	}
	return sums
}

// AwaitConvergence polls replica checksums until every participant converges
// or ctx expires. fetch is called per participant on each poll; the bounded
// wait guarantees the eventual-consistency window is explicit rather than
// open-ended.
func (s *InMemoryStore) AwaitConvergence(ctx context.Context, conversationID string, participants []string, fetch func(participant string) ReplicaChecksums, interval time.Duration) (ConvergenceReport, error) {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		replicas := make(map[string]ReplicaChecksums, len(participants))
		for _, p := range participants {
			replicas[p] = fetch(p)
		}
		report := s.Converged(conversationID, replicas)
		if report.Converged {
			return report, nil
		}
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-ticker.C:
		}
	}
}
