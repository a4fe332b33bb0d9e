package marketdata

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/frontieralpha/quant/internal/database"
)

// Store provides access to historical price data in the prices database.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a new price store.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "price_store").Logger(),
	}
}

// Init creates the daily_prices table if it does not exist.
// The UNIQUE(symbol, date) constraint enforces the no-duplicate-dates
// invariant at the storage layer.
func (s *Store) Init() error {
	schema := `
		CREATE TABLE IF NOT EXISTS daily_prices (
			symbol TEXT NOT NULL,
			date   TEXT NOT NULL,
			open   REAL NOT NULL,
			high   REAL NOT NULL,
			low    REAL NOT NULL,
			close  REAL NOT NULL,
			volume INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, date)
		);
		CREATE INDEX IF NOT EXISTS idx_daily_prices_date ON daily_prices(date);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create daily_prices schema: %w", err)
	}
	return nil
}

// SaveDailyPrices upserts candles for a symbol in a single transaction.
func (s *Store) SaveDailyPrices(symbol string, candles PriceSeries) error {
	if err := candles.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid series for %s: %w", symbol, err)
	}

	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO daily_prices (symbol, date, open, high, low, close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, date) DO UPDATE SET
				open = excluded.open,
				high = excluded.high,
				low = excluded.low,
				close = excluded.close,
				volume = excluded.volume
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, c := range candles {
			if _, err := stmt.Exec(
				symbol,
				c.Date.UTC().Format("2006-01-02"),
				c.Open, c.High, c.Low, c.Close, c.Volume,
			); err != nil {
				return fmt.Errorf("failed to upsert candle: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Debug().
		Str("symbol", symbol).
		Int("candles", len(candles)).
		Msg("Saved daily prices")

	return nil
}

// GetPriceSeries fetches candles for a symbol with start <= date < end,
// ordered by date ascending.
func (s *Store) GetPriceSeries(symbol string, start, end time.Time) (PriceSeries, error) {
	query := `
		SELECT date, open, high, low, close, volume
		FROM daily_prices
		WHERE symbol = ? AND date >= ? AND date < ?
		ORDER BY date ASC
	`

	rows, err := s.db.Query(query,
		symbol,
		start.UTC().Format("2006-01-02"),
		end.UTC().Format("2006-01-02"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	var series PriceSeries
	for rows.Next() {
		var c Candle
		var dateStr string
		var volume sql.NullInt64

		if err := rows.Scan(&dateStr, &c.Open, &c.High, &c.Low, &c.Close, &volume); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}

		c.Date, err = time.ParseInLocation("2006-01-02", dateStr, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q for %s: %w", dateStr, symbol, err)
		}
		if volume.Valid {
			c.Volume = volume.Int64
		}

		series = append(series, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	return series, nil
}

// ListSymbols returns all symbols with at least one stored candle.
func (s *Store) ListSymbols() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT symbol FROM daily_prices ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, sym)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating symbols: %w", err)
	}

	return symbols, nil
}
