package decoder

import (
	"errors"

	"go.uber.org/zap"

	"eventsMonitor/internal/model"
	"eventsMonitor/internal/registry"
)

// Set decodes logs for every address in a registry, trying a proxy's
// candidates in order.
type Set struct {
	registry *registry.Registry
	decoders map[*registry.ContractDescriptor]*Decoder
}

// NewSet builds one decoder per descriptor in the registry.
func NewSet(reg *registry.Registry, logger *zap.Logger) *Set {
	s := &Set{
		registry: reg,
		decoders: make(map[*registry.ContractDescriptor]*Decoder),
	}
	for _, desc := range reg.Descriptors() {
		s.decoders[desc] = New(desc, logger)
	}
	return s
}

// Decode resolves the log address and decodes against the first candidate
// that matches. Identity fields report the outermost proxy as the contract
// and the matching descriptor as the implementation when they differ.
func (s *Set) Decode(log model.RawLog) (*model.EventRecord, error) {
	binding, ok := s.registry.Lookup(log.Address)
	if !ok {
		return nil, &Error{Kind: ErrUnknownContract, Contract: log.Address.Hex()}
	}

	var firstErr error
	for _, candidate := range binding.Candidates {
		dec, ok := s.decoders[candidate]
		if !ok {
			continue
		}
		record, err := dec.Decode(log)
		if err != nil {
			if firstErr == nil || (errors.Is(firstErr, ErrUnknownEventSignature) && !errors.Is(err, ErrUnknownEventSignature)) {
				firstErr = err
			}
			continue
		}

		record.ContractName = binding.Root.Name
		if candidate != binding.Root {
			addr := candidate.Address
			record.ImplementationName = candidate.Name
			record.ImplementationAddress = &addr
		}
		return record, nil
	}

	if firstErr == nil {
		firstErr = &Error{Kind: ErrUnknownEventSignature, Contract: binding.Root.Name}
	}
	return nil, firstErr
}
