package model

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// RawLog is a contract log as observed on chain, enriched with its block timestamp.
type RawLog struct {
	Address          common.Address `json:"contract_address"`
	Topics           []common.Hash  `json:"topics"`
	Data             hexutil.Bytes  `json:"data"`
	BlockNumber      uint64         `json:"block_number"`
	BlockHash        common.Hash    `json:"block_hash"`
	BlockTimestamp   uint64         `json:"block_timestamp"`
	TransactionHash  common.Hash    `json:"transaction_hash"`
	TransactionIndex uint64         `json:"transaction_index"`
	LogIndex         uint64         `json:"log_index"`
	Removed          bool           `json:"removed"`
}

// FromEthLog converts a go-ethereum log into a RawLog.
func FromEthLog(log types.Log, timestamp uint64) RawLog {
	topics := make([]common.Hash, len(log.Topics))
	copy(topics, log.Topics)
	data := make([]byte, len(log.Data))
	copy(data, log.Data)

	return RawLog{
		Address:          log.Address,
		Topics:           topics,
		Data:             data,
		BlockNumber:      log.BlockNumber,
		BlockHash:        log.BlockHash,
		BlockTimestamp:   timestamp,
		TransactionHash:  log.TxHash,
		TransactionIndex: uint64(log.TxIndex),
		LogIndex:         uint64(log.Index),
		Removed:          log.Removed,
	}
}

// ContentHash is the dedup key of a log occurrence. It covers the immutable
// coordinates only: address, block, transaction, log index, topics and data.
func (l RawLog) ContentHash() common.Hash {
	var num [8]byte
	buf := make([]byte, 0, common.AddressLength+3*8+2*common.HashLength+len(l.Topics)*common.HashLength+len(l.Data)+8)

	buf = append(buf, l.Address.Bytes()...)
	binary.BigEndian.PutUint64(num[:], l.BlockNumber)
	buf = append(buf, num[:]...)
	buf = append(buf, l.BlockHash.Bytes()...)
	buf = append(buf, l.TransactionHash.Bytes()...)
	binary.BigEndian.PutUint64(num[:], l.LogIndex)
	buf = append(buf, num[:]...)
	binary.BigEndian.PutUint64(num[:], uint64(len(l.Topics)))
	buf = append(buf, num[:]...)
	for _, topic := range l.Topics {
		buf = append(buf, topic.Bytes()...)
	}
	binary.BigEndian.PutUint64(num[:], uint64(len(l.Data)))
	buf = append(buf, num[:]...)
	buf = append(buf, l.Data...)

	return crypto.Keccak256Hash(buf)
}
