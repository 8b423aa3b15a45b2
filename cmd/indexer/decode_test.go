package main

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"eventsMonitor/internal/decoder"
	"eventsMonitor/internal/model"
)

var knownAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")

type stubDecoder struct{}

func (stubDecoder) Decode(log model.RawLog) (*model.EventRecord, error) {
	if log.Address != knownAddr {
		return nil, &decoder.Error{Kind: decoder.ErrUnknownContract}
	}
	return &model.EventRecord{RawLog: log, ContractName: "Token", EventName: "Ping"}, nil
}

type sliceWriter struct {
	values []interface{}
}

func (w *sliceWriter) Write(value interface{}) error {
	w.values = append(w.values, value)
	return nil
}

func logLine(t *testing.T, chainID uint64, addr common.Address, removed bool) string {
	t.Helper()
	rec := model.NewLogRecord(chainID, model.RawLog{
		Address:     addr,
		Topics:      []common.Hash{common.HexToHash("0x01")},
		BlockNumber: 10,
		LogIndex:    2,
		Removed:     removed,
	})
	line, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(line)
}

func TestDecodeStream(t *testing.T) {
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")
	input := strings.Join([]string{
		logLine(t, 1, knownAddr, false),
		"",
		logLine(t, 0, knownAddr, false),
		logLine(t, 1, knownAddr, true),
		logLine(t, 5, knownAddr, false),
		logLine(t, 1, other, false),
		`{"address":"nope"}`,
		`{not json`,
	}, "\n")

	out := &sliceWriter{}
	errs := &sliceWriter{}
	stats, err := decodeStream(strings.NewReader(input), stubDecoder{}, 1, out, errs)
	if err != nil {
		t.Fatalf("decodeStream: %v", err)
	}

	if stats.total != 7 || stats.decoded != 2 || stats.skipped != 2 || stats.failed != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	for _, v := range out.values {
		rec := v.(*model.EventRecord)
		if rec.ChainID != 1 {
			t.Fatalf("expected chain id 1, got %d", rec.ChainID)
		}
	}

	kinds := make([]string, 0, len(errs.values))
	for _, v := range errs.values {
		kinds = append(kinds, v.(model.DecodeError).Kind)
	}
	want := []string{"unknown_contract", "parse", "parse"}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected error kinds %v", kinds)
	}
	if got := errs.values[0].(model.DecodeError); got.Address != other.Hex() || got.BlockNumber != 10 || got.Topic0 == "" {
		t.Fatalf("unexpected decode error %+v", got)
	}
}

func TestJSONLWriterTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.jsonl")

	for _, value := range []string{"first", "second"} {
		w, err := newJSONLWriter(path, false)
		if err != nil {
			t.Fatalf("newJSONLWriter: %v", err)
		}
		if err := w.Write(map[string]string{"v": value}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 1 || lines[0] != `{"v":"second"}` {
		t.Fatalf("unexpected contents %v", lines)
	}
}
