package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trustbet/relayd/internal/domain"
)

// Archiver writes settlement records for resolved markets to object storage.
// Each resolution produces a summary document and a newline-delimited bet
// log. Deletion of source records is intentionally not performed here.
type Archiver struct {
	writer domain.BlobWriter
	// multipartThreshold is the bet-log size above which the multipart
	// uploader is used instead of a single PutObject.
	multipartThreshold int64
}

// NewArchiver creates an Archiver writing through the given BlobWriter.
func NewArchiver(writer domain.BlobWriter) *Archiver {
	return &Archiver{
		writer:             writer,
		multipartThreshold: minPartSize,
	}
}

// settlementRecord is the summary document for one resolved market.
type settlementRecord struct {
	MarketID   uint64    `json:"marketId"`
	Question   string    `json:"question"`
	Outcome    bool      `json:"outcome"`
	TotalYes   string    `json:"totalYes"`
	TotalNo    string    `json:"totalNo"`
	EndTime    time.Time `json:"endTime"`
	ResolvedAt time.Time `json:"resolvedAt"`
	BetCount   int       `json:"betCount"`
	BetsPath   string    `json:"betsPath,omitempty"`
}

// betRecord is one line of the bet log.
type betRecord struct {
	Bettor string `json:"bettor"`
	Side   bool   `json:"side"`
	Amount string `json:"amount"`
}

// ArchiveSettlement uploads the settlement summary and bet log for a resolved
// market. Paths are settlements/market-{id}.json and
// settlements/market-{id}-bets.jsonl.
func (a *Archiver) ArchiveSettlement(ctx context.Context, m domain.Market, bets []domain.Bet, resolvedAt time.Time) error {
	if !m.Resolved {
		return fmt.Errorf("s3blob: market %d is not resolved", m.ID)
	}

	rec := settlementRecord{
		MarketID:   m.ID,
		Question:   m.Question,
		Outcome:    m.Outcome,
		TotalYes:   m.TotalYes.String(),
		TotalNo:    m.TotalNo.String(),
		EndTime:    m.EndTime,
		ResolvedAt: resolvedAt,
		BetCount:   len(bets),
	}

	if len(bets) > 0 {
		betsPath := fmt.Sprintf("settlements/market-%d-bets.jsonl", m.ID)
		log, err := marshalBetLog(bets)
		if err != nil {
			return fmt.Errorf("s3blob: settlement %d bet log: %w", m.ID, err)
		}
		if err := a.uploadBetLog(ctx, betsPath, log); err != nil {
			return err
		}
		rec.BetsPath = betsPath
	}

	summary, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("s3blob: settlement %d marshal: %w", m.ID, err)
	}
	path := fmt.Sprintf("settlements/market-%d.json", m.ID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(summary), "application/json"); err != nil {
		return fmt.Errorf("s3blob: settlement %d upload: %w", m.ID, err)
	}
	return nil
}

func (a *Archiver) uploadBetLog(ctx context.Context, path string, log []byte) error {
	if int64(len(log)) >= a.multipartThreshold {
		if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(log), minPartSize); err != nil {
			return fmt.Errorf("s3blob: bet log multipart upload %s: %w", path, err)
		}
		return nil
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(log), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: bet log upload %s: %w", path, err)
	}
	return nil
}

// marshalBetLog serialises bets as newline-delimited JSON.
func marshalBetLog(bets []domain.Bet) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, b := range bets {
		rec := betRecord{
			Bettor: b.Bettor.Hex(),
			Side:   b.Side,
			Amount: b.Amount.String(),
		}
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encode bet %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
