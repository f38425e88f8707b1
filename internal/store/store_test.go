package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

type fakeWriter struct {
	rows    map[string]*models.QuoteSnapshot
	failFor map[string]bool
	calls   int
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{rows: make(map[string]*models.QuoteSnapshot), failFor: make(map[string]bool)}
}

func (f *fakeWriter) UpsertSnapshot(_ context.Context, snap *models.QuoteSnapshot) error {
	f.calls++
	if f.failFor[snap.Token] {
		return errors.New("db down")
	}
	f.rows[snap.Token+"|"+snap.Timestamp.Format(time.RFC3339)] = snap
	return nil
}

type fakeCache struct {
	batches [][]*models.QuoteSnapshot
	err     error
}

func (f *fakeCache) SetQuoteBatch(_ context.Context, snaps []*models.QuoteSnapshot) error {
	f.batches = append(f.batches, snaps)
	return f.err
}

type fakePublisher struct {
	published []string
}

func (f *fakePublisher) PublishQuote(snap *models.QuoteSnapshot) error {
	f.published = append(f.published, snap.Token)
	return nil
}

func snap(token string, ts time.Time) *models.QuoteSnapshot {
	return &models.QuoteSnapshot{Token: token, Kind: models.KindFuture, LTP: 100, Timestamp: ts}
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestSaveBatchPersistsAndFansOut(t *testing.T) {
	writer := newFakeWriter()
	cache := &fakeCache{}
	pub := &fakePublisher{}
	s := New(writer, cache, pub, nil, testLogger())

	ts := time.Now()
	saved, err := s.SaveBatch(context.Background(), []*models.QuoteSnapshot{
		snap("100", ts), snap("200", ts),
	})

	require.NoError(t, err)
	assert.Equal(t, 2, saved)
	assert.Len(t, writer.rows, 2)
	require.Len(t, cache.batches, 1)
	assert.Len(t, cache.batches[0], 2)
	assert.Equal(t, []string{"100", "200"}, pub.published)
}

func TestSaveBatchIsIdempotent(t *testing.T) {
	writer := newFakeWriter()
	s := New(writer, nil, nil, nil, testLogger())

	ts := time.Date(2026, 9, 1, 10, 15, 0, 0, time.UTC)
	batch := []*models.QuoteSnapshot{snap("100", ts)}

	for i := 0; i < 3; i++ {
		saved, err := s.SaveBatch(context.Background(), batch)
		require.NoError(t, err)
		assert.Equal(t, 1, saved)
	}

	// Same key replayed three times leaves exactly one row.
	assert.Len(t, writer.rows, 1)
	assert.Equal(t, 3, writer.calls)
}

func TestSaveBatchContainsPerRowFailures(t *testing.T) {
	writer := newFakeWriter()
	writer.failFor["200"] = true
	pub := &fakePublisher{}
	s := New(writer, nil, pub, nil, testLogger())

	ts := time.Now()
	saved, err := s.SaveBatch(context.Background(), []*models.QuoteSnapshot{
		snap("100", ts), snap("200", ts), snap("300", ts),
	})

	require.Error(t, err)
	assert.Equal(t, 2, saved)
	// Only persisted snapshots reach the sinks.
	assert.Equal(t, []string{"100", "300"}, pub.published)
}

func TestSaveBatchCacheFailureDoesNotFailBatch(t *testing.T) {
	writer := newFakeWriter()
	cache := &fakeCache{err: errors.New("redis down")}
	s := New(writer, cache, nil, nil, testLogger())

	saved, err := s.SaveBatch(context.Background(), []*models.QuoteSnapshot{snap("100", time.Now())})
	require.NoError(t, err)
	assert.Equal(t, 1, saved)
}

func TestSaveBatchEmptyIsNoop(t *testing.T) {
	writer := newFakeWriter()
	s := New(writer, nil, nil, nil, testLogger())

	saved, err := s.SaveBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, saved)
	assert.Equal(t, 0, writer.calls)
}
