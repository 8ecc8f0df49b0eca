package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"mandiwatch/internal/model"
)

func TestFetchQuoteSuccess(t *testing.T) {
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"commodity": r.URL.Query().Get("commodity"),
			"market":    r.URL.Query().Get("market"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"commodity": "wheat",
			"market": "pune",
			"price": "2105.50",
			"unit": "quintal",
			"observed_at": "2026-08-01T10:30:00Z",
			"source": "apmc"
		}`))
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL}, zerolog.Nop())
	obs, err := client.FetchQuote(context.Background(), "Wheat", " Pune ")
	require.NoError(t, err)

	require.Equal(t, "wheat", gotQuery["commodity"], "query params are canonicalised")
	require.Equal(t, "pune", gotQuery["market"])

	require.Equal(t, "wheat", obs.Commodity)
	require.Equal(t, "pune", obs.Market)
	require.True(t, obs.Price.Equal(decimal.RequireFromString("2105.50")))
	require.Equal(t, "quintal", obs.Unit)
	require.Equal(t, "apmc", obs.Source)
	require.Equal(t, time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC), obs.ObservedAt)
}

func TestFetchQuoteDefaultsMissingFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"price": "1200"}`))
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL, Source: "config-source"}, zerolog.Nop())
	before := time.Now().UTC()
	obs, err := client.FetchQuote(context.Background(), "onion", "nashik")
	require.NoError(t, err)

	require.Equal(t, "config-source", obs.Source, "source falls back to the configured default")
	require.False(t, obs.ObservedAt.Before(before), "observed_at defaults to now")
}

func TestFetchQuoteRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"non-positive price", `{"price": "0"}`},
		{"negative price", `{"price": "-10"}`},
		{"unparseable price", `{"price": "abc"}`},
		{"bad observed_at", `{"price": "100", "observed_at": "yesterday"}`},
		{"not json", `<html>`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := NewClient(Options{BaseURL: server.URL}, zerolog.Nop())
			_, err := client.FetchQuote(context.Background(), "wheat", "pune")
			require.Error(t, err)
		})
	}
}

func TestFetchQuoteAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": "not_found", "message": "no quote for series"}`))
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL}, zerolog.Nop())
	_, err := client.FetchQuote(context.Background(), "wheat", "pune")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no quote for series")
	require.Contains(t, err.Error(), "404")
}

func TestFetchQuoteRequiresBaseURL(t *testing.T) {
	client := NewClient(Options{}, zerolog.Nop())
	_, err := client.FetchQuote(context.Background(), "wheat", "pune")
	require.Error(t, err)
}

type stubFetcher struct {
	failFor map[string]bool
}

func (s *stubFetcher) FetchQuote(_ context.Context, commodity, market string) (model.Observation, error) {
	if s.failFor[commodity] {
		return model.Observation{}, errors.New("upstream down")
	}
	return model.Observation{
		Commodity:  commodity,
		Market:     market,
		Price:      decimal.NewFromInt(100),
		ObservedAt: time.Now().UTC(),
		Source:     "stub",
	}, nil
}

type recordingSubmitter struct {
	mu  sync.Mutex
	got []model.Observation
	err error
}

func (r *recordingSubmitter) SubmitObservation(_ context.Context, obs model.Observation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, obs)
	return nil
}

func TestPollerSubmitsEveryPair(t *testing.T) {
	submitter := &recordingSubmitter{}
	poller := NewPoller(&stubFetcher{}, submitter, []Pair{
		{Commodity: "wheat", Market: "pune"},
		{Commodity: "onion", Market: "nashik"},
	}, zerolog.Nop())

	require.NoError(t, poller.Poll(context.Background(), time.Now()))
	require.Len(t, submitter.got, 2)
}

func TestPollerBrokenPairDoesNotBlockOthers(t *testing.T) {
	submitter := &recordingSubmitter{}
	poller := NewPoller(&stubFetcher{failFor: map[string]bool{"wheat": true}}, submitter, []Pair{
		{Commodity: "wheat", Market: "pune"},
		{Commodity: "onion", Market: "nashik"},
	}, zerolog.Nop())

	require.NoError(t, poller.Poll(context.Background(), time.Now()))
	require.Len(t, submitter.got, 1)
	require.Equal(t, "onion", submitter.got[0].Commodity)
}

func TestPollerStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	submitter := &recordingSubmitter{}
	poller := NewPoller(&stubFetcher{}, submitter, []Pair{{Commodity: "wheat", Market: "pune"}}, zerolog.Nop())

	err := poller.Poll(ctx, time.Now())
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, submitter.got)
}
