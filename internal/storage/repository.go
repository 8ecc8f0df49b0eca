package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"mandiwatch/internal/model"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createObservationsSQL = `CREATE TABLE IF NOT EXISTS observations (
        id           BIGSERIAL PRIMARY KEY,
        commodity    TEXT NOT NULL,
        market       TEXT NOT NULL,
        seq          BIGINT NOT NULL,
        price        NUMERIC NOT NULL,
        unit         TEXT NOT NULL DEFAULT '',
        observed_at  TIMESTAMPTZ NOT NULL,
        source       TEXT NOT NULL DEFAULT '',
        recorded_at  TIMESTAMPTZ NOT NULL,
        UNIQUE (commodity, market, observed_at, source)
    );`

	createAlertsSQL = `CREATE TABLE IF NOT EXISTS alerts (
        id           UUID PRIMARY KEY,
        owner_id     TEXT NOT NULL,
        commodity    TEXT NOT NULL,
        market       TEXT NOT NULL DEFAULT '',
        direction    TEXT NOT NULL,
        target       NUMERIC NOT NULL,
        state        TEXT NOT NULL,
        cursors      JSONB NOT NULL DEFAULT '{}',
        created_at   TIMESTAMPTZ NOT NULL,
        triggered_at TIMESTAMPTZ,
        expires_at   TIMESTAMPTZ
    );`

	createTransitionsSQL = `CREATE TABLE IF NOT EXISTS transitions (
        event_id        UUID PRIMARY KEY,
        alert_id        UUID NOT NULL,
        owner_id        TEXT NOT NULL,
        from_state      TEXT NOT NULL,
        to_state        TEXT NOT NULL,
        commodity       TEXT NOT NULL,
        market          TEXT NOT NULL,
        direction       TEXT NOT NULL,
        target          NUMERIC NOT NULL,
        price           NUMERIC NOT NULL,
        observation_seq BIGINT NOT NULL,
        observed_at     TIMESTAMPTZ NOT NULL,
        occurred_at     TIMESTAMPTZ NOT NULL,
        created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	createIndexesSQL = `CREATE INDEX IF NOT EXISTS idx_observations_series
        ON observations (commodity, market, observed_at DESC);`

	insertObservationSQL = `INSERT INTO observations (
        commodity, market, seq, price, unit, observed_at, source, recorded_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    ON CONFLICT (commodity, market, observed_at, source) DO NOTHING;`

	listRecentObservationsSQL = `SELECT
        commodity, market, seq, price, unit, observed_at, source, recorded_at
    FROM observations
    WHERE commodity = $1 AND market = $2
    ORDER BY observed_at DESC
    LIMIT $3;`

	listObservationsBetweenSQL = `SELECT
        commodity, market, seq, price, unit, observed_at, source, recorded_at
    FROM observations
    WHERE commodity = $1 AND market = $2
      AND observed_at >= $3 AND observed_at < $4
    ORDER BY observed_at;`

	upsertAlertSQL = `INSERT INTO alerts (
        id, owner_id, commodity, market, direction, target, state, cursors,
        created_at, triggered_at, expires_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    ON CONFLICT (id) DO UPDATE
    SET state        = EXCLUDED.state,
        cursors      = EXCLUDED.cursors,
        triggered_at = EXCLUDED.triggered_at,
        expires_at   = EXCLUDED.expires_at;`

	listAlertsSQL = `SELECT
        id, owner_id, commodity, market, direction, target, state, cursors,
        created_at, triggered_at, expires_at
    FROM alerts
    WHERE owner_id = $1
    ORDER BY created_at, id
    LIMIT $2;`

	loadOpenAlertsSQL = `SELECT
        id, owner_id, commodity, market, direction, target, state, cursors,
        created_at, triggered_at, expires_at
    FROM alerts
    WHERE state = 'active';`

	insertTransitionSQL = `INSERT INTO transitions (
        event_id, alert_id, owner_id, from_state, to_state, commodity, market,
        direction, target, price, observation_seq, observed_at, occurred_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
    ON CONFLICT (event_id) DO NOTHING;`

	listRecentTransitionsSQL = `SELECT
        event_id, alert_id, owner_id, from_state, to_state, commodity, market,
        direction, target, price, observation_seq, observed_at, occurred_at
    FROM transitions
    ORDER BY occurred_at DESC
    LIMIT $1;`

	deleteTransitionsBeforeSQL = `DELETE FROM transitions WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store aggregates durable access to observations, alerts, and transitions.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range []string{createObservationsSQL, createAlertsSQL, createTransitionsSQL, createIndexesSQL} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key) // best effort
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertObservation persists an observation. Reports false without error for
// a re-delivered (commodity, market, observed-at, source) tuple.
func (s *Store) InsertObservation(ctx context.Context, obs model.Observation) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	tag, execErr := pool.Exec(ctx, insertObservationSQL,
		obs.Commodity,
		obs.Market,
		int64(obs.Seq),
		obs.Price.String(),
		obs.Unit,
		obs.ObservedAt,
		obs.Source,
		obs.RecordedAt,
	)
	if execErr != nil {
		return false, fmt.Errorf("insert observation: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// ArchiveObservation satisfies the price store's durable write-through hook.
func (s *Store) ArchiveObservation(ctx context.Context, obs model.Observation) error {
	_, err := s.InsertObservation(ctx, obs)
	return err
}

// ListRecentObservations lists the newest observations for one series.
func (s *Store) ListRecentObservations(ctx context.Context, commodity, market string, limit int) ([]model.Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentObservationsSQL, model.Canonical(commodity), model.Canonical(market), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent observations: %w", queryErr)
	}
	defer rows.Close()

	return collectObservations(rows, limit)
}

// ListObservationsBetween lists observations for one series within a window.
func (s *Store) ListObservationsBetween(ctx context.Context, commodity, market string, from, to time.Time) ([]model.Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listObservationsBetweenSQL, model.Canonical(commodity), model.Canonical(market), from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list observations between: %w", queryErr)
	}
	defer rows.Close()

	return collectObservations(rows, 0)
}

// UpsertAlert persists the alert's current state and cursors.
func (s *Store) UpsertAlert(ctx context.Context, alert *model.Alert) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	cursors := alert.Cursors
	if cursors == nil {
		cursors = map[string]uint64{}
	}
	cursorsJSON, marshalErr := json.Marshal(cursors)
	if marshalErr != nil {
		return fmt.Errorf("marshal alert cursors: %w", marshalErr)
	}

	_, execErr := pool.Exec(ctx, upsertAlertSQL,
		alert.ID,
		alert.OwnerID,
		alert.Commodity,
		alert.Market,
		string(alert.Direction),
		alert.Target.String(),
		string(alert.State),
		cursorsJSON,
		alert.CreatedAt,
		alert.TriggeredAt,
		alert.ExpiresAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert alert: %w", execErr)
	}
	return nil
}

// ListAlerts lists an owner's alerts in stable creation order.
func (s *Store) ListAlerts(ctx context.Context, ownerID string, limit int) ([]*model.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAlertsSQL, ownerID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// LoadOpenAlerts returns every Active alert for registry restore at startup.
func (s *Store) LoadOpenAlerts(ctx context.Context) ([]*model.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, loadOpenAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("load open alerts: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// InsertTransition archives a transition event; re-inserting an event id is a no-op.
func (s *Store) InsertTransition(ctx context.Context, tr model.Transition) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertTransitionSQL,
		tr.EventID,
		tr.AlertID,
		tr.OwnerID,
		string(tr.From),
		string(tr.To),
		tr.Commodity,
		tr.Market,
		string(tr.Direction),
		tr.Target.String(),
		tr.Price.String(),
		int64(tr.ObservationSeq),
		tr.ObservedAt,
		tr.OccurredAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert transition: %w", execErr)
	}
	return nil
}

// ListRecentTransitions lists the newest transition events.
func (s *Store) ListRecentTransitions(ctx context.Context, limit int) ([]model.Transition, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentTransitionsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent transitions: %w", queryErr)
	}
	defer rows.Close()

	transitions := make([]model.Transition, 0, limit)
	for rows.Next() {
		tr, scanErr := scanTransition(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		transitions = append(transitions, tr)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return transitions, nil
}

// DeleteTransitionsBefore prunes archived transition events.
func (s *Store) DeleteTransitionsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteTransitionsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete transitions before: %w", execErr)
	}
	return nil
}

func collectObservations(rows pgx.Rows, hint int) ([]model.Observation, error) {
	observations := make([]model.Observation, 0, hint)
	for rows.Next() {
		obs, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

func scanObservation(rows pgx.Rows) (model.Observation, error) {
	var (
		obs      model.Observation
		seq      int64
		priceStr string
	)
	if err := rows.Scan(
		&obs.Commodity,
		&obs.Market,
		&seq,
		&priceStr,
		&obs.Unit,
		&obs.ObservedAt,
		&obs.Source,
		&obs.RecordedAt,
	); err != nil {
		return model.Observation{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return model.Observation{}, fmt.Errorf("parse observation price: %w", err)
	}
	obs.Seq = uint64(seq)
	obs.Price = price
	return obs, nil
}

func collectAlerts(rows pgx.Rows) ([]*model.Alert, error) {
	var alerts []*model.Alert
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanAlert(rows pgx.Rows) (*model.Alert, error) {
	var (
		alert       model.Alert
		id          uuid.UUID
		direction   string
		targetStr   string
		state       string
		cursorsJSON []byte
	)
	if err := rows.Scan(
		&id,
		&alert.OwnerID,
		&alert.Commodity,
		&alert.Market,
		&direction,
		&targetStr,
		&state,
		&cursorsJSON,
		&alert.CreatedAt,
		&alert.TriggeredAt,
		&alert.ExpiresAt,
	); err != nil {
		return nil, err
	}

	target, err := decimal.NewFromString(targetStr)
	if err != nil {
		return nil, fmt.Errorf("parse alert target: %w", err)
	}

	cursors := make(map[string]uint64)
	if len(cursorsJSON) > 0 {
		if err := json.Unmarshal(cursorsJSON, &cursors); err != nil {
			return nil, fmt.Errorf("parse alert cursors: %w", err)
		}
	}

	alert.ID = id
	alert.Direction = model.Direction(direction)
	alert.Target = target
	alert.State = model.AlertState(state)
	alert.Cursors = cursors
	return &alert, nil
}

func scanTransition(rows pgx.Rows) (model.Transition, error) {
	var (
		tr             model.Transition
		fromState      string
		toState        string
		direction      string
		targetStr      string
		priceStr       string
		observationSeq int64
	)
	if err := rows.Scan(
		&tr.EventID,
		&tr.AlertID,
		&tr.OwnerID,
		&fromState,
		&toState,
		&tr.Commodity,
		&tr.Market,
		&direction,
		&targetStr,
		&priceStr,
		&observationSeq,
		&tr.ObservedAt,
		&tr.OccurredAt,
	); err != nil {
		return model.Transition{}, err
	}

	target, err := decimal.NewFromString(targetStr)
	if err != nil {
		return model.Transition{}, fmt.Errorf("parse transition target: %w", err)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return model.Transition{}, fmt.Errorf("parse transition price: %w", err)
	}

	tr.From = model.AlertState(fromState)
	tr.To = model.AlertState(toState)
	tr.Direction = model.Direction(direction)
	tr.Target = target
	tr.Price = price
	tr.ObservationSeq = uint64(observationSeq)
	return tr, nil
}
