package decoder

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"eventsMonitor/internal/config"
	"eventsMonitor/internal/model"
	"eventsMonitor/internal/registry"
)

const tokenABI = `[
  {"type":"event","name":"Transfer","anonymous":false,"inputs":[
    {"name":"from","type":"address","indexed":true},
    {"name":"to","type":"address","indexed":true},
    {"name":"value","type":"uint256","indexed":false}]},
  {"type":"event","name":"Mixed","anonymous":false,"inputs":[
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"owner","type":"address","indexed":true},
    {"name":"memo","type":"string","indexed":false},
    {"name":"tag","type":"bytes32","indexed":true},
    {"name":"label","type":"string","indexed":true}]}
]`

const anonymousABI = `[
  {"type":"event","name":"AnonTwo","anonymous":true,"inputs":[
    {"name":"x","type":"uint64","indexed":true},
    {"name":"y","type":"uint64","indexed":true}]},
  {"type":"event","name":"AnonOne","anonymous":true,"inputs":[
    {"name":"x","type":"uint64","indexed":true}]}
]`

const pingABI = `[{"type":"event","name":"Ping","inputs":[]}]`

var (
	contractAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	fromAddr     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	toAddr       = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func mustDescriptor(t *testing.T, name string, addr common.Address, abiJSON string) *registry.ContractDescriptor {
	t.Helper()
	desc, err := registry.Parse(name, addr, []byte(abiJSON))
	require.NoError(t, err)
	return desc
}

func schemaByName(t *testing.T, desc *registry.ContractDescriptor, name string) *registry.EventSchema {
	t.Helper()
	for _, s := range desc.Schemas {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("schema %s not found", name)
	return nil
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func rawLog(addr common.Address, data []byte, topics ...common.Hash) model.RawLog {
	return model.RawLog{
		Address:         addr,
		Topics:          topics,
		Data:            data,
		BlockNumber:     100,
		BlockHash:       common.HexToHash("0xb10c"),
		TransactionHash: common.HexToHash("0x7a"),
		LogIndex:        3,
	}
}

func TestDecodeTransfer(t *testing.T) {
	desc := mustDescriptor(t, "Token", contractAddr, tokenABI)
	dec := New(desc, nil)

	transfer := schemaByName(t, desc, "Transfer")
	data, err := transfer.Event.Inputs.NonIndexed().Pack(big.NewInt(1000))
	require.NoError(t, err)

	sig := crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	log := rawLog(contractAddr, data, sig, addressTopic(fromAddr), addressTopic(toAddr))

	record, err := dec.Decode(log)
	require.NoError(t, err)

	assert.Equal(t, "Transfer", record.EventName)
	require.NotNil(t, record.Signature)
	assert.Equal(t, sig, *record.Signature)
	assert.Equal(t, "Token", record.ContractName)
	assert.Equal(t, log.ContentHash(), record.ContentHash)
	assert.Equal(t, []model.Param{
		{Name: "from", Type: "address", Indexed: true, Value: fromAddr.Hex()},
		{Name: "to", Type: "address", Indexed: true, Value: toAddr.Hex()},
		{Name: "value", Type: "uint256", Indexed: false, Value: "1000"},
	}, record.Params)
}

func TestDecodeKeepsDeclarationOrder(t *testing.T) {
	desc := mustDescriptor(t, "Token", contractAddr, tokenABI)
	dec := New(desc, nil)

	mixed := schemaByName(t, desc, "Mixed")
	data, err := mixed.Event.Inputs.NonIndexed().Pack(big.NewInt(7), "hello")
	require.NoError(t, err)

	tag := common.HexToHash("0x0102")
	labelDigest := crypto.Keccak256Hash([]byte("label-value"))
	log := rawLog(contractAddr, data, mixed.Signature(), addressTopic(fromAddr), tag, labelDigest)

	record, err := dec.Decode(log)
	require.NoError(t, err)

	names := make([]string, 0, len(record.Params))
	for _, p := range record.Params {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"amount", "owner", "memo", "tag", "label"}, names)
	assert.Equal(t, "7", record.Params[0].Value)
	assert.Equal(t, fromAddr.Hex(), record.Params[1].Value)
	assert.Equal(t, "hello", record.Params[2].Value)
	assert.Equal(t, tag.Hex(), record.Params[3].Value)
	assert.Equal(t, model.IndexedDigest{Keccak256: labelDigest}, record.Params[4].Value)
}

func TestDecodeTagsStringsJSONCannotCarry(t *testing.T) {
	desc := mustDescriptor(t, "Token", contractAddr, tokenABI)
	dec := New(desc, nil)
	mixed := schemaByName(t, desc, "Mixed")

	cases := map[string]interface{}{
		"a\x00b\xff": model.RawString{UTF8: false, Hex: "0x610062ff"},
		"nul\x00":    model.RawString{UTF8: false, Hex: "0x6e756c00"},
		"\xc3\x28":   model.RawString{UTF8: false, Hex: "0xc328"},
		"héllo":      "héllo",
	}
	for memo, want := range cases {
		data, err := mixed.Event.Inputs.NonIndexed().Pack(big.NewInt(1), memo)
		require.NoError(t, err)
		log := rawLog(contractAddr, data, mixed.Signature(), addressTopic(fromAddr), common.Hash{}, common.Hash{})

		record, err := dec.Decode(log)
		require.NoError(t, err)
		assert.Equal(t, want, record.Params[2].Value, "memo %q", memo)
	}
}

func TestDecodeNotEnoughTopics(t *testing.T) {
	desc := mustDescriptor(t, "Token", contractAddr, tokenABI)
	dec := New(desc, nil)

	data, err := schemaByName(t, desc, "Transfer").Event.Inputs.NonIndexed().Pack(big.NewInt(1))
	require.NoError(t, err)

	sig := crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	record, err := dec.Decode(rawLog(contractAddr, data, sig, addressTopic(fromAddr)))
	require.Error(t, err)
	assert.Nil(t, record)
	assert.True(t, errors.Is(err, ErrNotEnoughTopics))
	assert.Equal(t, "not_enough_topics", KindOf(err))

	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "Transfer", de.Event)
}

func TestDecodeMalformedData(t *testing.T) {
	desc := mustDescriptor(t, "Token", contractAddr, tokenABI)
	dec := New(desc, nil)

	sig := crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	record, err := dec.Decode(rawLog(contractAddr, []byte{0x01, 0x02, 0x03}, sig, addressTopic(fromAddr), addressTopic(toAddr)))
	require.Error(t, err)
	assert.Nil(t, record)
	assert.True(t, errors.Is(err, ErrMalformedData))
}

func TestDecodeUnknownSignature(t *testing.T) {
	desc := mustDescriptor(t, "Token", contractAddr, tokenABI)
	dec := New(desc, nil)

	record, err := dec.Decode(rawLog(contractAddr, nil, crypto.Keccak256Hash([]byte("Nope()"))))
	require.Error(t, err)
	assert.Nil(t, record)
	assert.True(t, errors.Is(err, ErrUnknownEventSignature))

	_, err = dec.Decode(rawLog(contractAddr, nil))
	assert.True(t, errors.Is(err, ErrUnknownEventSignature))
}

func TestDecodePingWithoutParams(t *testing.T) {
	desc := mustDescriptor(t, "Pinger", contractAddr, pingABI)
	dec := New(desc, nil)

	sig := crypto.Keccak256Hash([]byte("Ping()"))
	record, err := dec.Decode(rawLog(contractAddr, nil, sig))
	require.NoError(t, err)

	assert.Equal(t, "Ping", record.EventName)
	require.NotNil(t, record.Signature)
	assert.Equal(t, sig, *record.Signature)
	assert.Empty(t, record.Params)
}

func TestDecodeAnonymousByTopicCount(t *testing.T) {
	desc := mustDescriptor(t, "Anon", contractAddr, anonymousABI)
	dec := New(desc, nil)

	one := common.BigToHash(big.NewInt(5))
	two := common.BigToHash(big.NewInt(9))

	record, err := dec.Decode(rawLog(contractAddr, nil, one))
	require.NoError(t, err)
	assert.Equal(t, "AnonOne", record.EventName)
	assert.Nil(t, record.Signature)
	assert.Equal(t, "5", record.Params[0].Value)

	record, err = dec.Decode(rawLog(contractAddr, nil, one, two))
	require.NoError(t, err)
	assert.Equal(t, "AnonTwo", record.EventName)
	assert.Equal(t, "5", record.Params[0].Value)
	assert.Equal(t, "9", record.Params[1].Value)

	_, err = dec.Decode(rawLog(contractAddr, nil))
	assert.True(t, errors.Is(err, ErrUnknownEventSignature))
}

func TestNewWarnsOnMissingAnonymousField(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	desc := mustDescriptor(t, "Pinger", contractAddr, pingABI)

	New(desc, zap.New(core))

	entries := logs.FilterMessageSnippet("no anonymous field").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Ping", entries[0].ContextMap()["event"])

	core, logs = observer.New(zapcore.WarnLevel)
	New(mustDescriptor(t, "Token", contractAddr, tokenABI), zap.New(core))
	assert.Zero(t, logs.Len())
}

func TestSetDecodesThroughProxy(t *testing.T) {
	proxyAddr := common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	implAddr := common.HexToAddress("0xbbbb000000000000000000000000000000000002")

	descs := map[string]string{"Proxy": pingABI, "Impl": tokenABI}
	load := func(name, addressHex, _ string) (*registry.ContractDescriptor, error) {
		return registry.Parse(name, common.HexToAddress(addressHex), []byte(descs[name]))
	}

	reg, err := registry.ResolveProxyTreeWith(load, []config.ContractConfig{{
		Name:    "Proxy",
		Address: proxyAddr.Hex(),
		AbiPath: "proxy.json",
		Implementations: []config.ContractConfig{
			{Name: "Impl", Address: implAddr.Hex(), AbiPath: "impl.json"},
		},
	}}, 4, 8, nil)
	require.NoError(t, err)

	set := NewSet(reg, nil)

	ping, err := set.Decode(rawLog(proxyAddr, nil, crypto.Keccak256Hash([]byte("Ping()"))))
	require.NoError(t, err)
	assert.Equal(t, "Proxy", ping.ContractName)
	assert.Empty(t, ping.ImplementationName)
	assert.Nil(t, ping.ImplementationAddress)

	desc := reg.Descriptors()[1]
	data, err := schemaByName(t, desc, "Transfer").Event.Inputs.NonIndexed().Pack(big.NewInt(42))
	require.NoError(t, err)
	sig := crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

	transfer, err := set.Decode(rawLog(proxyAddr, data, sig, addressTopic(fromAddr), addressTopic(toAddr)))
	require.NoError(t, err)
	assert.Equal(t, "Proxy", transfer.ContractName)
	assert.Equal(t, proxyAddr, transfer.Address)
	assert.Equal(t, "Impl", transfer.ImplementationName)
	require.NotNil(t, transfer.ImplementationAddress)
	assert.Equal(t, implAddr, *transfer.ImplementationAddress)

	_, err = set.Decode(rawLog(proxyAddr, data, sig, addressTopic(fromAddr)))
	assert.True(t, errors.Is(err, ErrNotEnoughTopics))

	_, err = set.Decode(rawLog(common.HexToAddress("0x01"), nil))
	assert.True(t, errors.Is(err, ErrUnknownContract))
}
