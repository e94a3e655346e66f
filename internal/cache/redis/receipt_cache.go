package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/trustbet/relayd/internal/domain"
)

// ReceiptCache implements domain.ReceiptCache using Redis string values.
// Confirmed receipts are stored JSON-encoded at "receipt:{sigHash}" so a
// duplicate relay of the same signed permit can be answered without touching
// the journal or the chain.
type ReceiptCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewReceiptCache creates a ReceiptCache with the given entry TTL. A TTL of
// zero keeps entries until evicted.
func NewReceiptCache(c *Client, ttl time.Duration) *ReceiptCache {
	return &ReceiptCache{rdb: c.Underlying(), ttl: ttl}
}

func receiptKey(sigHash common.Hash) string {
	return "receipt:" + sigHash.Hex()
}

// Get returns the cached receipt for a permit signature, if present.
func (rc *ReceiptCache) Get(ctx context.Context, sigHash common.Hash) (domain.Receipt, bool, error) {
	data, err := rc.rdb.Get(ctx, receiptKey(sigHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Receipt{}, false, nil
	}
	if err != nil {
		return domain.Receipt{}, false, fmt.Errorf("redis: get receipt %s: %w", sigHash.Hex(), err)
	}

	var r domain.Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.Receipt{}, false, fmt.Errorf("redis: decode receipt %s: %w", sigHash.Hex(), err)
	}
	return r, true, nil
}

// Put stores a confirmed receipt.
func (rc *ReceiptCache) Put(ctx context.Context, sigHash common.Hash, r domain.Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("redis: encode receipt %s: %w", sigHash.Hex(), err)
	}
	if err := rc.rdb.Set(ctx, receiptKey(sigHash), data, rc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: put receipt %s: %w", sigHash.Hex(), err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ReceiptCache = (*ReceiptCache)(nil)
