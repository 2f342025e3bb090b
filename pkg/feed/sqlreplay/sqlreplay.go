// Package sqlreplay implements feed.HistoricalSource against a Postgres
// table of native-timeframe OHLCV bars. Same
// lib/pq driver and query shape as a TimescaleDB-backed provider, generalized from a
// row type keyed by string timeframe to bartime.Bar. The timeframe column
// filter is fixed at Open time to the one native timeframe this Source
// serves; resampling up from it is pkg/barcache's job, not the SQL
// source's.
package sqlreplay

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/tradecore/engine/pkg/bartime"
	"github.com/tradecore/engine/pkg/logging"
)

// Source replays historical bars stored in a `bars` table:
// (symbol, timeframe, ts, open, high, low, close, volume) — one row per
// native-timeframe bar, ts stored UTC.
type Source struct {
	db        *sql.DB
	timeframe string
	logger    zerolog.Logger
}

// Open connects to a Postgres/TimescaleDB instance and verifies
// connectivity with a Ping.
func Open(connectionString, timeframe string) (*Source, error) {
	logger := logging.GetLogger(logging.ComponentFeedSQLReplay)

	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("sqlreplay: opening connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlreplay: ping: %w", err)
	}
	logger.Info().Str("timeframe", timeframe).Msg("connected to historical bar store")
	return &Source{db: db, timeframe: timeframe, logger: logger}, nil
}

// Fetch implements feed.HistoricalSource.
func (s *Source) Fetch(ctx context.Context, symbol string, start, end time.Time) (bartime.Series, error) {
	s.logger.Debug().
		Str("symbol", symbol).
		Time("start", start).
		Time("end", end).
		Msg("fetching bars from sql store")

	const query = `
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = $1 AND timeframe = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts ASC
	`
	rows, err := s.db.QueryContext(ctx, query, symbol, s.timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("sqlreplay: querying bars: %w", err)
	}
	defer rows.Close()

	var out bartime.Series
	for rows.Next() {
		var b bartime.Bar
		if err := rows.Scan(&b.Start, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlreplay: scanning row: %w", err)
		}
		b.Start = b.Start.UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlreplay: iterating rows: %w", err)
	}

	s.logger.Info().Str("symbol", symbol).Int("bars", len(out)).Msg("fetched bars from sql store")
	return out, nil
}

// Close releases the underlying connection pool.
func (s *Source) Close() error {
	return s.db.Close()
}
