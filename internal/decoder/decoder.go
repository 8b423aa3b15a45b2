package decoder

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"eventsMonitor/internal/model"
	"eventsMonitor/internal/registry"
)

// Decoder decodes logs against one contract descriptor.
type Decoder struct {
	desc        *registry.ContractDescriptor
	bySignature map[common.Hash]*registry.EventSchema
	anonymous   []*registry.EventSchema
}

// New builds a decoder. Events whose ABI entry carried no "anonymous" key are
// decoded as non-anonymous, and a warning is logged for each.
func New(desc *registry.ContractDescriptor, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("decoder")

	d := &Decoder{
		desc:        desc,
		bySignature: make(map[common.Hash]*registry.EventSchema, len(desc.EventsBySignature)),
		anonymous:   make([]*registry.EventSchema, 0, len(desc.AnonymousEvents)),
	}
	for sig, schema := range desc.EventsBySignature {
		d.bySignature[sig] = schema
	}
	d.anonymous = append(d.anonymous, desc.AnonymousEvents...)

	for _, schema := range desc.Schemas {
		if schema.ExplicitAnonymousFieldPresent {
			continue
		}
		logger.Warn("abi event has no anonymous field, assuming non-anonymous",
			zap.String("contract", desc.Name),
			zap.String("address", desc.Address.Hex()),
			zap.String("event", schema.Name),
		)
	}

	return d
}

// Descriptor returns the descriptor the decoder was built from.
func (d *Decoder) Descriptor() *registry.ContractDescriptor {
	return d.desc
}

// Decode matches a log to an event schema and decodes its parameters in ABI
// declaration order. On failure no record is returned.
func (d *Decoder) Decode(log model.RawLog) (*model.EventRecord, error) {
	if len(log.Topics) > 0 {
		if schema, ok := d.bySignature[log.Topics[0]]; ok {
			params, err := decodeParams(schema, log.Topics[1:], log.Data)
			if err != nil {
				return nil, d.fail(schema.Name, err)
			}
			sig := log.Topics[0]
			return d.record(log, schema, &sig, params), nil
		}
	}

	for _, schema := range d.anonymous {
		if schema.IndexedCount() > len(log.Topics) {
			continue
		}
		params, err := decodeParams(schema, log.Topics, log.Data)
		if err != nil {
			continue
		}
		return d.record(log, schema, nil, params), nil
	}

	return nil, d.fail("", ErrUnknownEventSignature)
}

func (d *Decoder) fail(event string, err error) error {
	de := &Error{Contract: d.desc.Name, Event: event}
	switch {
	case errors.Is(err, ErrNotEnoughTopics):
		de.Kind = ErrNotEnoughTopics
	case errors.Is(err, ErrUnknownEventSignature):
		de.Kind = ErrUnknownEventSignature
	default:
		de.Kind = ErrMalformedData
	}
	if err != de.Kind {
		de.Err = err
	}
	return de
}

func (d *Decoder) record(log model.RawLog, schema *registry.EventSchema, sig *common.Hash, params []model.Param) *model.EventRecord {
	return &model.EventRecord{
		RawLog:       log,
		ContractName: d.desc.Name,
		EventName:    schema.Name,
		Signature:    sig,
		Params:       params,
		ContentHash:  log.ContentHash(),
	}
}

// decodeParams reads indexed inputs from topics and non-indexed inputs from
// data, then merges them back by declaration position.
func decodeParams(schema *registry.EventSchema, topics []common.Hash, data []byte) (params []model.Param, err error) {
	defer func() {
		if r := recover(); r != nil {
			params = nil
			err = fmt.Errorf("%w: %v", ErrMalformedData, r)
		}
	}()

	inputs := schema.Event.Inputs
	if len(inputs) != len(schema.Params) {
		return nil, fmt.Errorf("%w: schema has %d params, abi has %d", ErrMalformedData, len(schema.Params), len(inputs))
	}

	indexedCount := schema.IndexedCount()
	if len(topics) < indexedCount {
		return nil, fmt.Errorf("%w: want %d indexed, have %d topics", ErrNotEnoughTopics, indexedCount, len(topics))
	}

	values := make([]interface{}, len(inputs))

	topicIdx := 0
	for i, arg := range inputs {
		if !arg.Indexed {
			continue
		}
		value, err := decodeTopic(arg, topics[topicIdx])
		if err != nil {
			return nil, fmt.Errorf("%w: topic %s: %v", ErrMalformedData, arg.Name, err)
		}
		values[i] = value
		topicIdx++
	}

	nonIndexed := inputs.NonIndexed()
	if len(nonIndexed) > 0 {
		unpacked, err := nonIndexed.Unpack(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
		}
		if len(unpacked) != len(nonIndexed) {
			return nil, fmt.Errorf("%w: unpacked %d values, want %d", ErrMalformedData, len(unpacked), len(nonIndexed))
		}
		j := 0
		for i, arg := range inputs {
			if arg.Indexed {
				continue
			}
			values[i] = normalize(unpacked[j])
			j++
		}
	}

	params = make([]model.Param, len(inputs))
	for i, p := range schema.Params {
		params[i] = model.Param{
			Name:    p.Name,
			Type:    p.Type,
			Indexed: p.Indexed,
			Value:   values[i],
		}
	}
	return params, nil
}

// decodeTopic decodes a static indexed value from its 32-byte topic. Reference
// types are stored as keccak256 of their encoding and come back as a digest.
func decodeTopic(arg abi.Argument, topic common.Hash) (interface{}, error) {
	switch arg.Type.T {
	case abi.StringTy, abi.BytesTy, abi.SliceTy, abi.ArrayTy, abi.TupleTy:
		return model.IndexedDigest{Keccak256: topic}, nil
	}

	unpacked, err := abi.Arguments{{Type: arg.Type}}.Unpack(topic.Bytes())
	if err != nil {
		return nil, err
	}
	if len(unpacked) != 1 {
		return nil, fmt.Errorf("unpacked %d values from topic", len(unpacked))
	}
	return normalize(unpacked[0]), nil
}
