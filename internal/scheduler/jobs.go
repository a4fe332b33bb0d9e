package scheduler

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/frontieralpha/quant/internal/database"
	"github.com/frontieralpha/quant/internal/modules/marketdata"
	"github.com/frontieralpha/quant/internal/modules/optimization"
	"github.com/frontieralpha/quant/internal/modules/walkforward"
	"github.com/frontieralpha/quant/internal/reliability"
)

// CacheSweepJob evicts expired computation cache entries.
type CacheSweepJob struct {
	Cache *marketdata.Cache
	Log   zerolog.Logger
}

func (j *CacheSweepJob) Name() string { return "cache-sweep" }

func (j *CacheSweepJob) Run() error {
	removed := j.Cache.Sweep()
	if removed > 0 {
		j.Log.Info().Int("removed", removed).Int("remaining", j.Cache.Len()).Msg("Cache sweep")
	}
	return nil
}

// WALCheckpointJob truncates the SQLite write-ahead log so it cannot grow
// unbounded between restarts.
type WALCheckpointJob struct {
	DB  *database.DB
	Log zerolog.Logger
}

func (j *WALCheckpointJob) Name() string { return "wal-checkpoint" }

func (j *WALCheckpointJob) Run() error {
	if err := j.DB.WALCheckpoint("TRUNCATE"); err != nil {
		return fmt.Errorf("wal checkpoint failed: %w", err)
	}
	return nil
}

// ValidationJob re-runs walk-forward validation for a configured symbol
// set over a trailing history window, so overfitting drift shows up in
// the logs (and the archive) without anyone asking for it.
type ValidationJob struct {
	Store     *marketdata.Store
	Validator *walkforward.Validator
	Archiver  *reliability.ReportArchiver // nil disables archiving
	Symbols   []string
	Objective string
	Log       zerolog.Logger
}

func (j *ValidationJob) Name() string { return "scheduled-validation" }

func (j *ValidationJob) Run() error {
	if len(j.Symbols) == 0 {
		return nil
	}

	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(-3, 0, 0)

	prices := make(map[string]marketdata.PriceSeries, len(j.Symbols))
	for _, symbol := range j.Symbols {
		series, err := j.Store.GetPriceSeries(symbol, start, end)
		if err != nil {
			return fmt.Errorf("failed to load prices for %s: %w", symbol, err)
		}
		prices[symbol] = series
	}

	objective := j.Objective
	if objective == "" {
		objective = optimization.ObjectiveMaxSharpe
	}

	result, err := j.Validator.Run(prices, walkforward.Config{
		Symbols:           j.Symbols,
		StartDate:         start,
		EndDate:           end,
		InSampleMonths:    12,
		OutOfSampleMonths: 3,
		StepMonths:        3,
		Objective:         objective,
	})
	if err != nil {
		return err
	}

	j.Log.Info().
		Int("windows", len(result.Windows)).
		Float64("totalReturn", result.TotalReturn).
		Float64("overfitRatio", result.OverfitRatio).
		Float64("informationDecay", result.InformationDecay).
		Msg("Scheduled validation complete")

	if j.Archiver != nil && len(result.Windows) > 0 {
		report := walkforward.GenerateReport(result)
		key := fmt.Sprintf("walkforward/scheduled/%s.txt", end.Format("2006-01-02"))
		if err := j.Archiver.Upload(key, "text/plain; charset=utf-8", []byte(report)); err != nil {
			j.Log.Warn().Err(err).Str("key", key).Msg("Report archive upload failed")
		}
	}

	return nil
}
