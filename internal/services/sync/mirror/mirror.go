// Package mirror keeps the locally persisted copies of the farm
// collections that the dashboard reads while offline.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/llakterian/Adonai-Farm-sub002/internal/platform/logging"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/domain"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/storage"
)

// Mirror serializes read-modify-write cycles over the mirrored collections.
// Conflicts resolve as last write wins.
type Mirror struct {
	mu     sync.Mutex
	store  storage.RecordStore
	logger *zap.Logger
}

// New builds a Mirror over store.
func New(store storage.RecordStore, logger *zap.Logger) *Mirror {
	return &Mirror{store: store, logger: logging.OrNop(logger)}
}

// Load returns the records of entity. A missing or corrupt document reads
// as an empty collection.
func (m *Mirror) Load(ctx context.Context, entity domain.Entity) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(ctx, entity)
}

// Save replaces the records of entity, as a direct edit from the dashboard.
func (m *Mirror) Save(ctx context.Context, entity domain.Entity, records []domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(ctx, entity, records)
}

// Update runs fn over the current records of entity and persists the result
// when fn reports a change.
func (m *Mirror) Update(ctx context.Context, entity domain.Entity, fn func([]domain.Record) ([]domain.Record, bool, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.load(ctx, entity)
	if err != nil {
		return err
	}
	next, changed, err := fn(records)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return m.save(ctx, entity, next)
}

func (m *Mirror) load(ctx context.Context, entity domain.Entity) ([]domain.Record, error) {
	if m == nil || m.store == nil {
		return nil, fmt.Errorf("mirror storage is not configured")
	}
	if _, err := domain.ParseEntity(string(entity)); err != nil {
		return nil, err
	}
	data, found, err := m.store.GetRecord(ctx, string(entity))
	if err != nil {
		return nil, fmt.Errorf("load %s mirror: %w", entity, err)
	}
	if !found {
		return []domain.Record{}, nil
	}
	records, err := domain.DecodeRecords(data)
	if err != nil {
		m.logger.Warn("discarding corrupt mirror",
			zap.String("entity", string(entity)),
			zap.Error(err),
		)
		return []domain.Record{}, nil
	}
	if records == nil {
		records = []domain.Record{}
	}
	return records, nil
}

func (m *Mirror) save(ctx context.Context, entity domain.Entity, records []domain.Record) error {
	if m == nil || m.store == nil {
		return fmt.Errorf("mirror storage is not configured")
	}
	if _, err := domain.ParseEntity(string(entity)); err != nil {
		return err
	}
	if records == nil {
		records = []domain.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode %s mirror: %w", entity, err)
	}
	if err := m.store.PutRecord(ctx, string(entity), data); err != nil {
		return fmt.Errorf("save %s mirror: %w", entity, err)
	}
	return nil
}
