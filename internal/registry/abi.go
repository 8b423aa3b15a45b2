package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"eventsMonitor/internal/config"
)

var (
	// ErrAddressParse also matches config.ErrConfig.
	ErrAddressParse = fmt.Errorf("%w: address parse", config.ErrConfig)
	ErrAbiLoad      = errors.New("abi load")
	ErrAbiParse     = errors.New("abi parse")
)

// Param is one event input as declared in the ABI.
type Param struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Indexed    bool    `json:"indexed"`
	Components []Param `json:"components,omitempty"`
}

// EventSchema is an event declaration together with its parsed go-ethereum form.
type EventSchema struct {
	Name      string
	Params    []Param
	Anonymous bool
	// ExplicitAnonymousFieldPresent is false when the ABI entry had no
	// "anonymous" key at all and Anonymous is only the default.
	ExplicitAnonymousFieldPresent bool

	Event abi.Event
}

// Signature is the topic0 hash of a non-anonymous event.
func (s *EventSchema) Signature() common.Hash {
	return s.Event.ID
}

// IndexedCount is the number of topics the event's indexed inputs occupy.
func (s *EventSchema) IndexedCount() int {
	n := 0
	for _, p := range s.Params {
		if p.Indexed {
			n++
		}
	}
	return n
}

// ContractDescriptor is the immutable decode table for one contract address.
type ContractDescriptor struct {
	Name    string
	Address common.Address

	EventsBySignature map[common.Hash]*EventSchema
	AnonymousEvents   []*EventSchema
	// Schemas lists every event in ABI declaration order.
	Schemas []*EventSchema

	// ParentName and ParentAddress are set for a proxy's implementation.
	ParentName    string
	ParentAddress *common.Address
}

// IsImplementation reports whether the descriptor sits behind a proxy.
func (d *ContractDescriptor) IsImplementation() bool {
	return d.ParentAddress != nil
}

type rawEntry struct {
	Type      string          `json:"type"`
	Name      string          `json:"name"`
	Inputs    []rawInput      `json:"inputs"`
	Anonymous json.RawMessage `json:"anonymous"`
}

type rawInput struct {
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Indexed    bool       `json:"indexed"`
	Components []rawInput `json:"components"`
}

// Load reads an ABI file and builds the descriptor for a contract.
func Load(name, addressHex, abiPath string) (*ContractDescriptor, error) {
	address, err := ParseAddress(addressHex)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(abiPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAbiLoad, abiPath, err)
	}

	desc, err := Parse(name, address, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abiPath, err)
	}
	return desc, nil
}

// ParseAddress accepts a 0x-prefixed 20-byte hex address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("%w: invalid address %q", ErrAddressParse, input)
	}
	return common.HexToAddress(input), nil
}

// Parse builds a descriptor from ABI JSON. Both a bare ABI array and an
// artifact object carrying an "abi" array are accepted.
func Parse(name string, address common.Address, data []byte) (*ContractDescriptor, error) {
	document, err := abiDocument(data)
	if err != nil {
		return nil, err
	}

	if _, err := abi.JSON(bytes.NewReader(document)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAbiParse, err)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(document, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAbiParse, err)
	}

	desc := &ContractDescriptor{
		Name:              name,
		Address:           address,
		EventsBySignature: make(map[common.Hash]*EventSchema),
	}

	for i, entry := range entries {
		var raw rawEntry
		if err := json.Unmarshal(entry, &raw); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrAbiParse, i, err)
		}
		if raw.Type != "event" {
			continue
		}

		schema, err := buildSchema(entry, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: event %s: %v", ErrAbiParse, raw.Name, err)
		}

		desc.Schemas = append(desc.Schemas, schema)
		if schema.Anonymous {
			desc.AnonymousEvents = append(desc.AnonymousEvents, schema)
			continue
		}
		if _, exists := desc.EventsBySignature[schema.Signature()]; !exists {
			desc.EventsBySignature[schema.Signature()] = schema
		}
	}

	return desc, nil
}

func abiDocument(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrAbiParse)
	}
	if trimmed[0] == '[' {
		return trimmed, nil
	}

	var artifact struct {
		ABI json.RawMessage `json:"abi"`
	}
	if err := json.Unmarshal(trimmed, &artifact); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAbiParse, err)
	}
	if len(artifact.ABI) == 0 {
		return nil, fmt.Errorf("%w: document is neither an ABI array nor an artifact with an abi field", ErrAbiParse)
	}
	return bytes.TrimSpace(artifact.ABI), nil
}

// buildSchema parses a single event entry on its own so that overloaded
// event names keep a one-to-one mapping with their raw entries.
func buildSchema(entry json.RawMessage, raw rawEntry) (*EventSchema, error) {
	single := make([]byte, 0, len(entry)+2)
	single = append(single, '[')
	single = append(single, entry...)
	single = append(single, ']')

	parsed, err := abi.JSON(bytes.NewReader(single))
	if err != nil {
		return nil, err
	}
	if len(parsed.Events) != 1 {
		return nil, fmt.Errorf("expected one event, got %d", len(parsed.Events))
	}

	var event abi.Event
	for _, ev := range parsed.Events {
		event = ev
	}

	explicit := len(raw.Anonymous) > 0 && !bytes.Equal(bytes.TrimSpace(raw.Anonymous), []byte("null"))

	return &EventSchema{
		Name:                          raw.Name,
		Params:                        convertInputs(raw.Inputs),
		Anonymous:                     event.Anonymous,
		ExplicitAnonymousFieldPresent: explicit,
		Event:                         event,
	}, nil
}

func convertInputs(inputs []rawInput) []Param {
	if len(inputs) == 0 {
		return nil
	}
	params := make([]Param, 0, len(inputs))
	for _, in := range inputs {
		params = append(params, Param{
			Name:       in.Name,
			Type:       in.Type,
			Indexed:    in.Indexed,
			Components: convertInputs(in.Components),
		})
	}
	return params
}
