package ledger

import (
	"fmt"
	"sort"
)

// SelectMinimalCover picks the fewest records whose sum reaches target.
// Among covers of equal size the largest records are preferred, so the
// k largest records form a cover iff any k-record cover exists.
func SelectMinimalCover(records RecordSet, target uint64) (RecordSet, error) {
	if target == 0 {
		return RecordSet{}, nil
	}

	sorted := make(RecordSet, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Lamports > sorted[j].Lamports
	})

	var sum uint64
	for i, r := range sorted {
		sum += r.Lamports
		if sum >= target {
			return sorted[:i+1], nil
		}
	}

	return nil, fmt.Errorf("%w: have %d lamports in %d records, need %d", ErrNoCover, sum, len(records), target)
}
