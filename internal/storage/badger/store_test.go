package badger

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventsMonitor/internal/model"
)

func TestMirrorEventInMemory(t *testing.T) {
	store, err := Open("")
	require.NoError(t, err)
	defer store.Close()

	sender := common.HexToAddress("0xaa")
	rec := &model.EventRecord{
		RawLog: model.RawLog{
			Address:     common.HexToAddress("0x11"),
			Topics:      []common.Hash{common.HexToHash("0x01")},
			BlockNumber: 120,
			LogIndex:    2,
		},
		ChainID:           1,
		ContractName:      "Token",
		EventName:         "Transfer",
		TransactionSender: &sender,
		ContentHash:       common.HexToHash("0xc0"),
	}

	ctx := context.Background()
	require.NoError(t, store.MirrorEvent(ctx, rec))
	require.NoError(t, store.MirrorEvent(ctx, rec))

	got, err := store.Get(1, rec.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, "Transfer", got.EventName)
	assert.Equal(t, uint64(120), got.BlockNumber)
	require.NotNil(t, got.TransactionSender)
	assert.Equal(t, sender, *got.TransactionSender)

	n, err := store.Count(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.Count(137)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = store.Get(1, common.HexToHash("0xdead"))
	assert.ErrorIs(t, err, ErrNotFound)
}
