package service

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/trustbet/relayd/internal/domain"
)

var testOperator = common.HexToAddress("0x00000000000000000000000000000000000000aa")

// fakeAdmin records lifecycle calls.
type fakeAdmin struct {
	created []string
}

func (f *fakeAdmin) CreateMarket(_ context.Context, _ common.Address, question string, _ time.Time) (uint64, error) {
	f.created = append(f.created, question)
	return uint64(len(f.created) - 1), nil
}

func (f *fakeAdmin) ResolveMarket(context.Context, common.Address, uint64, bool) error {
	return nil
}

type fakeFees struct {
	fee *big.Int
}

func (f *fakeFees) FeePercentage(context.Context) (*big.Int, error) {
	return f.fee, nil
}

func newMarketService(admin MarketAdmin) *MarketService {
	return NewMarketService(nil, admin, nil, nil, testOperator, nil, slog.Default())
}

func TestCreate_EmptyQuestion(t *testing.T) {
	admin := &fakeAdmin{}
	s := newMarketService(admin)

	_, err := s.Create(context.Background(), "", time.Now().Add(time.Hour))
	if !errors.Is(err, domain.ErrInvalidQuestion) {
		t.Errorf("empty question: err = %v, want ErrInvalidQuestion", err)
	}
	if errors.Is(err, domain.ErrInvalidAmount) {
		t.Error("empty question reported as an amount problem")
	}
	if len(admin.created) != 0 {
		t.Errorf("admin called %d times for a rejected question", len(admin.created))
	}
}

func TestCreate_PassesQuestionThrough(t *testing.T) {
	admin := &fakeAdmin{}
	s := newMarketService(admin)

	id, err := s.Create(context.Background(), "will it rain", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != 0 || len(admin.created) != 1 || admin.created[0] != "will it rain" {
		t.Errorf("created = %v (id %d), want one market", admin.created, id)
	}
}

func TestFee_UnsupportedWithoutReader(t *testing.T) {
	s := newMarketService(&fakeAdmin{})

	if _, err := s.Fee(context.Background()); !errors.Is(err, domain.ErrUnsupported) {
		t.Errorf("fee without reader: err = %v, want ErrUnsupported", err)
	}
}

func TestFee_ReadsFromReader(t *testing.T) {
	s := newMarketService(&fakeAdmin{})
	s.SetFeeReader(&fakeFees{fee: big.NewInt(3)})

	fee, err := s.Fee(context.Background())
	if err != nil {
		t.Fatalf("Fee: %v", err)
	}
	if fee.Int64() != 3 {
		t.Errorf("fee = %s, want 3", fee)
	}
}
