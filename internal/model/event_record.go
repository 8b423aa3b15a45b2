package model

import (
	"github.com/ethereum/go-ethereum/common"
)

// Param is one decoded event parameter, in ABI declaration order.
type Param struct {
	Name    string      `json:"name"`
	Type    string      `json:"type"`
	Indexed bool        `json:"indexed"`
	Value   interface{} `json:"value"`
}

// IndexedDigest is the value of an indexed parameter of dynamic type. The
// topic stores keccak256 of the encoded value, never the value itself.
type IndexedDigest struct {
	Keccak256 common.Hash `json:"keccak256"`
}

// RawString is the value of a string parameter that is not valid UTF-8 or
// contains NUL. Hex holds the exact bytes emitted by the contract.
type RawString struct {
	UTF8 bool   `json:"utf8"`
	Hex  string `json:"hex"`
}

// Participants are the sender and receiver of the transaction that emitted a log.
// Receiver is nil for contract creation transactions.
type Participants struct {
	Sender   common.Address  `json:"from"`
	Receiver *common.Address `json:"to"`
}

// EventRecord is a decoded log ready for persistence.
type EventRecord struct {
	RawLog

	ChainID               uint64          `json:"chain_id"`
	ContractName          string          `json:"contract_name"`
	ImplementationName    string          `json:"implementation_name,omitempty"`
	ImplementationAddress *common.Address `json:"implementation_address,omitempty"`

	EventName string       `json:"event_name"`
	Signature *common.Hash `json:"event_signature"`
	Params    []Param      `json:"params"`

	TransactionSender   *common.Address `json:"transaction_sender"`
	TransactionReceiver *common.Address `json:"transaction_receiver"`

	ContentHash common.Hash `json:"content_hash"`
}

// SetParticipants copies resolved participants into the record.
func (r *EventRecord) SetParticipants(p *Participants) {
	if p == nil {
		r.TransactionSender = nil
		r.TransactionReceiver = nil
		return
	}
	sender := p.Sender
	r.TransactionSender = &sender
	if p.Receiver != nil {
		receiver := *p.Receiver
		r.TransactionReceiver = &receiver
	} else {
		r.TransactionReceiver = nil
	}
}
