package indexer

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"eventsMonitor/internal/config"
)

func TestParseAddresses(t *testing.T) {
	a := "0x00000000000000000000000000000000000000aa"
	b := "0x00000000000000000000000000000000000000BB"

	got, err := ParseAddresses([]string{a, " ", " " + b + " ", a})
	if err != nil {
		t.Fatalf("ParseAddresses: %v", err)
	}
	want := []common.Address{common.HexToAddress(a), common.HexToAddress(b)}
	if len(got) != len(want) {
		t.Fatalf("expected %d addresses, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("address %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestParseAddressesRejectsMalformed(t *testing.T) {
	_, err := ParseAddresses([]string{"0x00000000000000000000000000000000000000aa", "0x1234"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, config.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}
