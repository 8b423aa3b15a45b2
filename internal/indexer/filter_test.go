package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"eventsMonitor/internal/model"
)

func TestFilterSpecAllows(t *testing.T) {
	recv := watched
	other := stranger
	cases := []struct {
		name   string
		spec   FilterSpec
		p      model.Participants
		reason string
	}{
		{"inactive", NewFilterSpec(nil, nil), model.Participants{Sender: senderBB}, ""},
		{"sender match", NewFilterSpec([]common.Address{senderAA}, nil), model.Participants{Sender: senderAA}, ""},
		{"sender miss", NewFilterSpec([]common.Address{senderAA}, nil), model.Participants{Sender: senderBB}, "sender"},
		{"receiver match", NewFilterSpec(nil, []common.Address{watched}), model.Participants{Sender: senderBB, Receiver: &recv}, ""},
		{"receiver miss", NewFilterSpec(nil, []common.Address{watched}), model.Participants{Sender: senderBB, Receiver: &other}, "receiver"},
		{"contract creation", NewFilterSpec(nil, []common.Address{watched}), model.Participants{Sender: senderBB}, "receiver"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.spec.Allows(tc.p); got != tc.reason {
				t.Fatalf("reason mismatch: got %q want %q", got, tc.reason)
			}
		})
	}
}

type countingChain struct {
	fakeChain
	lookups int
}

func (c *countingChain) TransactionParticipants(ctx context.Context, txHash common.Hash) (model.Participants, error) {
	c.mu.Lock()
	c.lookups++
	c.mu.Unlock()
	return c.fakeChain.TransactionParticipants(ctx, txHash)
}

func TestParticipantResolverCachesAndPrefetches(t *testing.T) {
	txA := common.HexToHash("0xa")
	txB := common.HexToHash("0xb")
	cc := &countingChain{fakeChain: fakeChain{participants: map[common.Hash]model.Participants{
		txA: {Sender: senderAA},
		txB: {Sender: senderBB},
	}}}
	r := newParticipantResolver(cc, 8, 2, 2, time.Millisecond, zap.NewNop())

	if err := r.prefetch(context.Background(), []common.Hash{txA, txB, txA}); err != nil {
		t.Fatalf("prefetch: %v", err)
	}
	if cc.lookups != 2 {
		t.Fatalf("expected 2 lookups, got %d", cc.lookups)
	}
	p, err := r.resolve(context.Background(), txB)
	if err != nil || p.Sender != senderBB {
		t.Fatalf("resolve: %+v %v", p, err)
	}
	if cc.lookups != 2 {
		t.Fatalf("cached lookup hit the chain: %d", cc.lookups)
	}
}

func TestParticipantResolverNotFoundIsNotRetried(t *testing.T) {
	cc := &countingChain{fakeChain: fakeChain{participants: map[common.Hash]model.Participants{}}}
	r := newParticipantResolver(cc, 8, 1, 5, time.Millisecond, zap.NewNop())

	if _, err := r.resolve(context.Background(), common.HexToHash("0xdead")); err == nil {
		t.Fatalf("expected not found")
	}
	if cc.lookups != 1 {
		t.Fatalf("not found must not retry, got %d lookups", cc.lookups)
	}
}
