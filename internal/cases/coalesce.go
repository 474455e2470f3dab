package cases

// Coalesce converts one window's burst of change events into a deduplicated
// set of case refs: one ref per distinct case id, carrying the maximum replay
// id observed for that id within the burst.
//
// Coalescing is an intentional optimization, not a correctness concern. If
// the same case flips status twice inside one window, a single fetch+index
// cycle sees the final state because the loader always fetches current truth
// rather than applying the event's own payload. Dropping the lower replay id
// is therefore safe: resume from the higher id can only skip events whose
// effects are already reflected in the fetched record.
//
// Output ordering is not deterministic; callers must not rely on it. Empty
// input yields an empty (non-nil) slice.
func Coalesce(events []ChangeEvent) []CaseRef {
	highest := make(map[string]int64, len(events))

	for _, event := range events {
		if event.CaseID == "" {
			continue
		}

		if replayID, seen := highest[event.CaseID]; !seen || event.ReplayID > replayID {
			highest[event.CaseID] = event.ReplayID
		}
	}

	refs := make([]CaseRef, 0, len(highest))
	for id, replayID := range highest {
		refs = append(refs, CaseRef{ID: id, ReplayID: replayID})
	}

	return refs
}

// MaxReplayID returns the highest replay id in a batch of refs, or 0 for an
// empty batch.
func MaxReplayID(refs []CaseRef) int64 {
	var maxID int64

	for _, ref := range refs {
		if ref.ReplayID > maxID {
			maxID = ref.ReplayID
		}
	}

	return maxID
}
