// Package store persists quote snapshots and fans them out to the
// best-effort sinks (cache, stream, time-series mirror).
package store

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

// SnapshotWriter is the authoritative persistence target. An upsert on
// the (token, timestamp) key replaces the existing row, so replaying a
// tick is harmless.
type SnapshotWriter interface {
	UpsertSnapshot(ctx context.Context, snap *models.QuoteSnapshot) error
}

// QuoteCache holds the latest snapshot per token for fast reads.
type QuoteCache interface {
	SetQuoteBatch(ctx context.Context, snaps []*models.QuoteSnapshot) error
}

// QuotePublisher streams snapshots to live subscribers.
type QuotePublisher interface {
	PublishQuote(snap *models.QuoteSnapshot) error
}

// QuoteMirror duplicates snapshots into a secondary time-series store.
type QuoteMirror interface {
	MirrorQuote(ctx context.Context, snap *models.QuoteSnapshot) error
}

// Store writes snapshot batches. Only the authoritative write can fail
// the batch; cache, stream and mirror failures are logged and dropped.
type Store struct {
	writer    SnapshotWriter
	cache     QuoteCache
	publisher QuotePublisher
	mirror    QuoteMirror
	logger    *logrus.Entry
}

// New creates a store. cache, publisher and mirror may be nil.
func New(writer SnapshotWriter, cache QuoteCache, publisher QuotePublisher, mirror QuoteMirror, logger *logrus.Logger) *Store {
	return &Store{
		writer:    writer,
		cache:     cache,
		publisher: publisher,
		mirror:    mirror,
		logger:    logger.WithField("component", "store"),
	}
}

// SaveBatch upserts every snapshot and fans the batch out. Individual
// upsert failures do not abort the batch; the count of persisted rows is
// always returned, with an error summarizing any failures.
func (s *Store) SaveBatch(ctx context.Context, snaps []*models.QuoteSnapshot) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}

	saved := 0
	failed := 0
	persisted := make([]*models.QuoteSnapshot, 0, len(snaps))

	for _, snap := range snaps {
		if err := s.writer.UpsertSnapshot(ctx, snap); err != nil {
			failed++
			s.logger.WithFields(logrus.Fields{
				"token": snap.Token,
				"error": err.Error(),
			}).Error("Failed to persist snapshot")
			continue
		}
		saved++
		persisted = append(persisted, snap)
	}

	s.fanOut(ctx, persisted)

	if failed > 0 {
		return saved, fmt.Errorf("%d of %d snapshots failed to persist", failed, len(snaps))
	}
	return saved, nil
}

// fanOut pushes persisted snapshots into the best-effort sinks.
func (s *Store) fanOut(ctx context.Context, snaps []*models.QuoteSnapshot) {
	if len(snaps) == 0 {
		return
	}

	if s.cache != nil {
		if err := s.cache.SetQuoteBatch(ctx, snaps); err != nil {
			s.logger.WithField("error", err.Error()).Warn("Failed to cache quote batch")
		}
	}

	if s.publisher != nil {
		for _, snap := range snaps {
			if err := s.publisher.PublishQuote(snap); err != nil {
				s.logger.WithFields(logrus.Fields{
					"token": snap.Token,
					"error": err.Error(),
				}).Warn("Failed to publish quote")
			}
		}
	}

	if s.mirror != nil {
		for _, snap := range snaps {
			if err := s.mirror.MirrorQuote(ctx, snap); err != nil {
				s.logger.WithField("error", err.Error()).Warn("Failed to mirror quote")
				break
			}
		}
	}
}
