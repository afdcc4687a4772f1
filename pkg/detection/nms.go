package detection

import (
	"sort"

	"github.com/menta2k/card-analyzer/pkg/geometry"
	"github.com/menta2k/card-analyzer/pkg/types"
)

// DefaultIoUThreshold is the overlap above which two regions are treated as
// the same object.
const DefaultIoUThreshold = 0.5

// Suppress applies greedy non-maximum suppression. The result is ordered by
// confidence, highest first; equal confidences keep detector order.
func Suppress(regions []types.Region, iouThreshold float64) []types.Region {
	if len(regions) == 0 {
		return nil
	}

	sorted := make([]types.Region, len(regions))
	copy(sorted, regions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]types.Region, 0, len(sorted))
	for _, r := range sorted {
		overlaps := false
		for _, k := range kept {
			if geometry.IoU(r.Box, k.Box) >= iouThreshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, r)
		}
	}
	return kept
}
