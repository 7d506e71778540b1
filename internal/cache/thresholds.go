package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/condor/internal/domain"
)

// byteStore is the raw key-value surface every backend provides. The
// threshold-map codec builds on it so the JSON shape lives in one place.
type byteStore interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
}

// getThresholdMap loads and decodes the resolved threshold map of a
// fiscal year. A miss returns nil without error.
func getThresholdMap(ctx context.Context, s byteStore, tenantID, fyID string) (map[string]decimal.Decimal, error) {
	data, err := s.Get(ctx, tenantID, domain.ThresholdMapKey(fyID))
	if err != nil || data == nil {
		return nil, err
	}

	var m map[string]decimal.Decimal
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// setThresholdMap encodes and stores the resolved threshold map of a
// fiscal year.
func setThresholdMap(ctx context.Context, s byteStore, tenantID, fyID string, m map[string]decimal.Decimal, ttl time.Duration) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.Set(ctx, tenantID, domain.ThresholdMapKey(fyID), data, ttl)
}
