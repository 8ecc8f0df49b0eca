package pricestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"mandiwatch/internal/model"
)

func obs(commodity, market string, price int64, observedAt time.Time, source string) model.Observation {
	return model.Observation{
		Commodity:  commodity,
		Market:     market,
		Price:      decimal.NewFromInt(price),
		Unit:       "quintal",
		ObservedAt: observedAt,
		Source:     source,
	}
}

func TestRecordAssignsSequence(t *testing.T) {
	store := New(zerolog.Nop())
	base := time.Now().UTC()

	first := obs("wheat", "pune", 2000, base, "apmc")
	second := obs("wheat", "pune", 2010, base.Add(time.Minute), "apmc")
	other := obs("onion", "pune", 1200, base, "apmc")

	require.NoError(t, store.Record(context.Background(), &first))
	require.NoError(t, store.Record(context.Background(), &second))
	require.NoError(t, store.Record(context.Background(), &other))

	require.Equal(t, uint64(1), first.Seq)
	require.Equal(t, uint64(2), second.Seq)
	require.Equal(t, uint64(1), other.Seq, "sequences are per key")
}

func TestRecordRejectsDuplicate(t *testing.T) {
	store := New(zerolog.Nop())
	at := time.Now().UTC()

	first := obs("wheat", "pune", 2000, at, "apmc")
	require.NoError(t, store.Record(context.Background(), &first))

	replay := obs("wheat", "pune", 2000, at, "apmc")
	err := store.Record(context.Background(), &replay)
	require.ErrorIs(t, err, ErrDuplicateObservation)

	// Same timestamp from a different source is a distinct observation.
	otherSource := obs("wheat", "pune", 2001, at, "trader")
	require.NoError(t, store.Record(context.Background(), &otherSource))

	require.Len(t, store.History("wheat", "pune", 10), 2)
}

func TestHistoryOrderAndEviction(t *testing.T) {
	store := New(zerolog.Nop(), WithCapacity(3))
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		o := obs("wheat", "pune", int64(2000+i), base.Add(time.Duration(i)*time.Minute), "apmc")
		require.NoError(t, store.Record(context.Background(), &o))
	}

	history := store.History("wheat", "pune", 10)
	require.Len(t, history, 3, "capacity bounds retained history")
	require.Equal(t, decimal.NewFromInt(2004), history[0].Price, "most recent first")
	require.Equal(t, decimal.NewFromInt(2002), history[2].Price)

	latest, ok := store.Latest("wheat", "pune")
	require.True(t, ok)
	require.Equal(t, decimal.NewFromInt(2004), latest.Price)

	// An evicted tuple may be recorded again.
	evicted := obs("wheat", "pune", 2000, base, "apmc")
	require.NoError(t, store.Record(context.Background(), &evicted))
}

func TestOutOfOrderArrivalKeepsTimeOrder(t *testing.T) {
	store := New(zerolog.Nop())
	base := time.Now().UTC()

	newer := obs("wheat", "pune", 2105, base.Add(10*time.Minute), "apmc")
	require.NoError(t, store.Record(context.Background(), &newer))

	older := obs("wheat", "pune", 2050, base, "apmc")
	require.NoError(t, store.Record(context.Background(), &older))
	require.Equal(t, uint64(2), older.Seq, "seq follows acceptance order")

	latest, ok := store.Latest("wheat", "pune")
	require.True(t, ok)
	require.Equal(t, decimal.NewFromInt(2105), latest.Price, "latest is newest by observed time")

	history := store.History("wheat", "pune", 10)
	require.Equal(t, decimal.NewFromInt(2105), history[0].Price)
	require.Equal(t, decimal.NewFromInt(2050), history[1].Price)
}

type failingArchive struct {
	err   error
	calls int
}

func (f *failingArchive) ArchiveObservation(ctx context.Context, obs model.Observation) error {
	f.calls++
	return f.err
}

func TestArchiveFailureBlocksAdmission(t *testing.T) {
	archive := &failingArchive{err: errors.New("connection refused")}
	store := New(zerolog.Nop(), WithArchive(archive))

	o := obs("wheat", "pune", 2000, time.Now().UTC(), "apmc")
	err := store.Record(context.Background(), &o)
	require.ErrorIs(t, err, ErrUnavailable)
	require.Zero(t, o.Seq)

	_, ok := store.Latest("wheat", "pune")
	require.False(t, ok, "failed write must leave no partial state")

	// Once the archive recovers the same observation is accepted.
	archive.err = nil
	require.NoError(t, store.Record(context.Background(), &o))
	require.Equal(t, uint64(1), o.Seq)
	require.Equal(t, 2, archive.calls)
}

func TestKeys(t *testing.T) {
	store := New(zerolog.Nop())
	base := time.Now().UTC()

	a := obs("wheat", "pune", 2000, base, "apmc")
	b := obs("onion", "nashik", 1200, base, "apmc")
	require.NoError(t, store.Record(context.Background(), &a))
	require.NoError(t, store.Record(context.Background(), &b))

	keys := store.Keys()
	require.Equal(t, []model.Key{
		{Commodity: "onion", Market: "nashik"},
		{Commodity: "wheat", Market: "pune"},
	}, keys)
}
