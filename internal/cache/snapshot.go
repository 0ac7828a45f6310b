package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

const snapshotKey = "snapshot"

// SnapshotReader is a read-through cache in front of a ConfigReader.
// Cache failures fall back to the underlying reader.
type SnapshotReader struct {
	next  domain.ConfigReader
	cache domain.Cache
	ttl   time.Duration
}

// NewSnapshotReader wraps next with cache. Snapshots live for ttl.
func NewSnapshotReader(next domain.ConfigReader, cache domain.Cache, ttl time.Duration) *SnapshotReader {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SnapshotReader{next: next, cache: cache, ttl: ttl}
}

// LoadSnapshot returns the cached snapshot for tenantID, loading it on a miss.
func (r *SnapshotReader) LoadSnapshot(ctx context.Context, tenantID int64) (*domain.Snapshot, error) {
	tenant := domain.TenantKey(tenantID)

	data, err := r.cache.Get(ctx, tenant, snapshotKey)
	if err != nil {
		slog.Warn("snapshot cache read failed", "tenant_id", tenantID, "error", err)
	}
	if data != nil {
		var snap domain.Snapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			return &snap, nil
		}
		slog.Warn("discarding undecodable cached snapshot", "tenant_id", tenantID)
	}

	snap, err := r.next.LoadSnapshot(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(snap); err == nil {
		if err := r.cache.Set(ctx, tenant, snapshotKey, data, r.ttl); err != nil {
			slog.Warn("snapshot cache write failed", "tenant_id", tenantID, "error", err)
		}
	}
	return snap, nil
}

// Invalidate drops the cached snapshot of tenantID.
func (r *SnapshotReader) Invalidate(ctx context.Context, tenantID int64) error {
	return r.cache.Delete(ctx, domain.TenantKey(tenantID), snapshotKey)
}
