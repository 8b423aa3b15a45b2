package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// LogRecord is the hex-string JSONL form of a raw log, as read by the decode command.
type LogRecord struct {
	ChainID     uint64   `json:"chain_id"`
	BlockNumber uint64   `json:"block_number"`
	BlockHash   string   `json:"block_hash"`
	TxHash      string   `json:"tx_hash"`
	TxIndex     uint64   `json:"tx_index"`
	LogIndex    uint64   `json:"log_index"`
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	Removed     bool     `json:"removed"`
	Timestamp   uint64   `json:"timestamp"`
}

// NewLogRecord renders a RawLog in its hex-string form.
func NewLogRecord(chainID uint64, log RawLog) LogRecord {
	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}

	return LogRecord{
		ChainID:     chainID,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		TxHash:      log.TransactionHash.Hex(),
		TxIndex:     log.TransactionIndex,
		LogIndex:    log.LogIndex,
		Address:     log.Address.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(log.Data),
		Removed:     log.Removed,
		Timestamp:   log.BlockTimestamp,
	}
}

// RawLog parses the hex fields back into a RawLog.
func (lr LogRecord) RawLog() (RawLog, error) {
	if !common.IsHexAddress(lr.Address) {
		return RawLog{}, fmt.Errorf("invalid address: %s", lr.Address)
	}

	topics := make([]common.Hash, 0, len(lr.Topics))
	for _, topic := range lr.Topics {
		h, err := parseHash(topic)
		if err != nil {
			return RawLog{}, fmt.Errorf("topic: %w", err)
		}
		topics = append(topics, h)
	}

	var data []byte
	if lr.Data != "" && lr.Data != "0x" {
		decoded, err := hexutil.Decode(lr.Data)
		if err != nil {
			return RawLog{}, fmt.Errorf("invalid data: %w", err)
		}
		data = decoded
	}

	blockHash, err := parseOptionalHash(lr.BlockHash)
	if err != nil {
		return RawLog{}, fmt.Errorf("block hash: %w", err)
	}
	txHash, err := parseOptionalHash(lr.TxHash)
	if err != nil {
		return RawLog{}, fmt.Errorf("tx hash: %w", err)
	}

	return RawLog{
		Address:          common.HexToAddress(lr.Address),
		Topics:           topics,
		Data:             data,
		BlockNumber:      lr.BlockNumber,
		BlockHash:        blockHash,
		BlockTimestamp:   lr.Timestamp,
		TransactionHash:  txHash,
		TransactionIndex: lr.TxIndex,
		LogIndex:         lr.LogIndex,
		Removed:          lr.Removed,
	}, nil
}

func parseHash(input string) (common.Hash, error) {
	data, err := hexutil.Decode(input)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid hash %s: %w", input, err)
	}
	if len(data) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid hash length %d: %s", len(data), input)
	}
	return common.BytesToHash(data), nil
}

func parseOptionalHash(input string) (common.Hash, error) {
	if input == "" {
		return common.Hash{}, nil
	}
	return parseHash(input)
}
