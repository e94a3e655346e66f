package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/trustbet/relayd/internal/domain"
)

// memWriter records uploads in memory.
type memWriter struct {
	puts       map[string][]byte
	multiparts map[string][]byte
}

func newMemWriter() *memWriter {
	return &memWriter{
		puts:       make(map[string][]byte),
		multiparts: make(map[string][]byte),
	}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.puts[path] = b
	return nil
}

func (w *memWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.multiparts[path] = b
	return nil
}

func resolvedMarket() domain.Market {
	return domain.Market{
		ID:       3,
		Question: "will it rain",
		EndTime:  time.Unix(1_700_000_000, 0).UTC(),
		TotalYes: big.NewInt(100),
		TotalNo:  big.NewInt(50),
		Resolved: true,
		Outcome:  true,
	}
}

func TestArchiveSettlement(t *testing.T) {
	w := newMemWriter()
	a := NewArchiver(w)

	bets := []domain.Bet{
		{MarketID: 3, Bettor: common.HexToAddress("0xa11"), Side: true, Amount: big.NewInt(100)},
		{MarketID: 3, Bettor: common.HexToAddress("0xb0b"), Side: false, Amount: big.NewInt(50)},
	}
	resolvedAt := time.Unix(1_700_010_000, 0).UTC()

	if err := a.ArchiveSettlement(context.Background(), resolvedMarket(), bets, resolvedAt); err != nil {
		t.Fatalf("ArchiveSettlement: %v", err)
	}

	summary, ok := w.puts["settlements/market-3.json"]
	if !ok {
		t.Fatalf("summary not uploaded; puts = %v", keys(w.puts))
	}
	var rec settlementRecord
	if err := json.Unmarshal(summary, &rec); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if rec.MarketID != 3 || !rec.Outcome || rec.TotalYes != "100" || rec.TotalNo != "50" || rec.BetCount != 2 {
		t.Errorf("summary = %+v", rec)
	}
	if rec.BetsPath != "settlements/market-3-bets.jsonl" {
		t.Errorf("BetsPath = %q", rec.BetsPath)
	}

	log, ok := w.puts[rec.BetsPath]
	if !ok {
		t.Fatalf("bet log not uploaded; puts = %v", keys(w.puts))
	}
	lines := bytes.Split(bytes.TrimSpace(log), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("bet log lines = %d, want 2", len(lines))
	}
	var first betRecord
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("decode bet line: %v", err)
	}
	if first.Amount != "100" || !first.Side {
		t.Errorf("first bet = %+v", first)
	}
}

func TestArchiveSettlement_NoBets(t *testing.T) {
	w := newMemWriter()
	a := NewArchiver(w)

	if err := a.ArchiveSettlement(context.Background(), resolvedMarket(), nil, time.Now().UTC()); err != nil {
		t.Fatalf("ArchiveSettlement: %v", err)
	}
	if _, ok := w.puts["settlements/market-3.json"]; !ok {
		t.Error("summary not uploaded")
	}
	for path := range w.puts {
		if strings.HasSuffix(path, ".jsonl") {
			t.Errorf("unexpected bet log %s for a market with no bets", path)
		}
	}
}

func TestArchiveSettlement_Unresolved(t *testing.T) {
	a := NewArchiver(newMemWriter())

	m := resolvedMarket()
	m.Resolved = false
	if err := a.ArchiveSettlement(context.Background(), m, nil, time.Now().UTC()); err == nil {
		t.Error("archiving an unresolved market succeeded")
	}
}

func TestArchiveSettlement_LargeLogUsesMultipart(t *testing.T) {
	w := newMemWriter()
	a := NewArchiver(w)
	a.multipartThreshold = 64 // force the multipart path

	bets := []domain.Bet{
		{MarketID: 3, Bettor: common.HexToAddress("0xa11"), Side: true, Amount: big.NewInt(100)},
		{MarketID: 3, Bettor: common.HexToAddress("0xb0b"), Side: false, Amount: big.NewInt(50)},
	}
	if err := a.ArchiveSettlement(context.Background(), resolvedMarket(), bets, time.Now().UTC()); err != nil {
		t.Fatalf("ArchiveSettlement: %v", err)
	}
	if _, ok := w.multiparts["settlements/market-3-bets.jsonl"]; !ok {
		t.Errorf("bet log not uploaded via multipart; multiparts = %v", keys(w.multiparts))
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
