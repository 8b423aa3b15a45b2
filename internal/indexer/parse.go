package indexer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"eventsMonitor/internal/registry"
)

// ParseAddresses converts filter entries into addresses. Blank entries are
// ignored and duplicates collapse to their first occurrence.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	seen := make(map[common.Address]struct{}, len(inputs))
	for i, input := range inputs {
		if strings.TrimSpace(input) == "" {
			continue
		}
		addr, err := registry.ParseAddress(input)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}
