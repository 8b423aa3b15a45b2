package indexer

import "fmt"

// BlockRange is a half-open block range [From, To).
type BlockRange struct {
	From uint64
	To   uint64
}

// Last returns the inclusive upper block, as RPC filters expect.
func (r BlockRange) Last() uint64 {
	return r.To - 1
}

// SplitRange splits [from, to) into consecutive ranges of at most chunkSize blocks.
func SplitRange(from, to, chunkSize uint64) ([]BlockRange, error) {
	if chunkSize == 0 {
		return nil, fmt.Errorf("chunk size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	ranges := make([]BlockRange, 0, (to-from+chunkSize-1)/chunkSize)
	for start := from; start < to; {
		end := to
		if to-start > chunkSize {
			end = start + chunkSize
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		start = end
	}

	return ranges, nil
}
