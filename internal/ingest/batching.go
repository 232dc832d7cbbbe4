package ingest

import (
	"errors"
	"fmt"
	"time"
)

// BatchTier applies to repositories with at most MaxFiles files. A MaxFiles of
// zero marks the open-ended last tier.
type BatchTier struct {
	MaxFiles int
	Size     int
	Delay    time.Duration
}

// BatchPolicy picks a batch size and inter-batch delay from the file count.
type BatchPolicy struct {
	Tiers []BatchTier
}

// DefaultBatchPolicy mirrors the pacing used against hosted model providers.
func DefaultBatchPolicy() BatchPolicy {
	return BatchPolicy{Tiers: []BatchTier{
		{MaxFiles: 20, Size: 20, Delay: 200 * time.Millisecond},
		{MaxFiles: 100, Size: 20, Delay: time.Second},
		{MaxFiles: 500, Size: 25, Delay: 2 * time.Second},
		{MaxFiles: 0, Size: 30, Delay: 3 * time.Second},
	}}
}

// Validate checks that tiers are ordered, sizes never shrink and the last
// tier is open-ended.
func (p BatchPolicy) Validate() error {
	if len(p.Tiers) == 0 {
		return errors.New("batch policy has no tiers")
	}
	prevMax, prevSize := 0, 0
	for i, t := range p.Tiers {
		last := i == len(p.Tiers)-1
		if t.Size <= 0 {
			return fmt.Errorf("batch tier %d: size must be positive", i)
		}
		if t.Delay < 0 {
			return fmt.Errorf("batch tier %d: delay must not be negative", i)
		}
		if t.Size < prevSize {
			return fmt.Errorf("batch tier %d: size %d is smaller than previous tier size %d", i, t.Size, prevSize)
		}
		if last {
			if t.MaxFiles != 0 {
				return fmt.Errorf("batch tier %d: last tier must be open-ended (max_files 0)", i)
			}
			break
		}
		if t.MaxFiles <= prevMax {
			return fmt.Errorf("batch tier %d: max_files must increase", i)
		}
		prevMax, prevSize = t.MaxFiles, t.Size
	}
	return nil
}

// For returns the batch size and delay for n files.
func (p BatchPolicy) For(n int) (int, time.Duration) {
	for _, t := range p.Tiers {
		if t.MaxFiles == 0 || n <= t.MaxFiles {
			return t.Size, t.Delay
		}
	}
	last := p.Tiers[len(p.Tiers)-1]
	return last.Size, last.Delay
}

// chunk splits n items into consecutive [start, end) ranges of at most size.
func chunk(n, size int) [][2]int {
	if size <= 0 {
		size = n
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		out = append(out, [2]int{start, end})
	}
	return out
}
