package activity

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"nftLend/internal/model"
)

const (
	amountExp         = -18
	utilizationPlaces = 6
)

// Config controls aggregation behavior.
type Config struct {
	WindowSeconds uint64
	BatchSize     int
	RecomputeFrom uint64
	StateStore    StateStore
}

// MetricsWriter receives finished windows.
type MetricsWriter interface {
	UpsertWindowMetrics(ctx context.Context, metrics []model.PoolWindowMetrics) error
}

// Aggregator rolls a pool event journal up into fixed windows per pool.
type Aggregator struct {
	cfg          Config
	writer       MetricsWriter
	logger       *zap.Logger
	accumulators map[string]*Accumulator
	positions    map[string]*Position
	fullReplay   bool
}

func NewAggregator(cfg Config, writer MetricsWriter, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		cfg:          cfg,
		writer:       writer,
		logger:       logger,
		accumulators: make(map[string]*Accumulator),
		positions:    make(map[string]*Position),
	}
}

// Run aggregates the journal at inputPath. Events at or before the stored
// state (or before RecomputeFrom) are skipped.
func (a *Aggregator) Run(ctx context.Context, inputPath string) error {
	if a.writer == nil {
		return fmt.Errorf("metrics writer is nil")
	}
	if a.cfg.WindowSeconds == 0 {
		return fmt.Errorf("window seconds must be > 0")
	}
	if a.cfg.BatchSize <= 0 {
		a.cfg.BatchSize = 1000
	}

	startTs, err := a.loadStartTimestamp(ctx)
	if err != nil {
		return err
	}
	a.fullReplay = startTs == 0

	file, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	batch := make([]model.PoolWindowMetrics, 0, a.cfg.BatchSize)
	maxTs := startTs
	var total, windows, skipped, failed int

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		total++

		var record model.PoolEventRecord
		if err := json.Unmarshal(line, &record); err != nil {
			failed++
			a.logger.Warn("decode pool event", zap.Error(err))
			continue
		}
		if record.Timestamp <= startTs {
			skipped++
			continue
		}

		start := windowStart(record.Timestamp, a.cfg.WindowSeconds)
		key := poolKey(record.Pool)
		acc := a.accumulators[key]
		if acc != nil && start < acc.WindowStart {
			failed++
			a.logger.Warn("event out of order",
				zap.String("pool", record.Pool),
				zap.Uint64("ts", record.Timestamp),
				zap.Uint64("window_start", acc.WindowStart),
			)
			continue
		}
		if acc == nil || acc.WindowStart != start {
			if acc != nil {
				batch = append(batch, a.metrics(acc))
				windows++
			}
			acc = NewAccumulator(record, start, start+a.cfg.WindowSeconds, a.position(key))
			a.accumulators[key] = acc
		}

		if err := acc.AddEvent(record); err != nil {
			failed++
			a.logger.Warn("aggregate event", zap.Error(err), zap.String("pool", record.Pool), zap.String("event", record.EventName))
			continue
		}
		if record.Timestamp > maxTs {
			maxTs = record.Timestamp
		}

		if len(batch) >= a.cfg.BatchSize {
			if err := a.writer.UpsertWindowMetrics(ctx, batch); err != nil {
				return fmt.Errorf("write windows: %w", err)
			}
			batch = batch[:0]
			if err := a.saveState(ctx, maxTs); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}

	keys := make([]string, 0, len(a.accumulators))
	for key := range a.accumulators {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		batch = append(batch, a.metrics(a.accumulators[key]))
		windows++
	}

	if len(batch) > 0 {
		if err := a.writer.UpsertWindowMetrics(ctx, batch); err != nil {
			return fmt.Errorf("write windows: %w", err)
		}
	}
	if err := a.saveState(ctx, maxTs); err != nil {
		return err
	}
	a.accumulators = make(map[string]*Accumulator)

	a.logger.Info("activity complete",
		zap.Int("total", total),
		zap.Int("windows", windows),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
		zap.Uint64("last_ts", maxTs),
	)
	return nil
}

func (a *Aggregator) position(key string) *Position {
	if !a.fullReplay {
		return nil
	}
	pos := a.positions[key]
	if pos == nil {
		pos = newPosition()
		a.positions[key] = pos
	}
	return pos
}

func (a *Aggregator) metrics(acc *Accumulator) model.PoolWindowMetrics {
	m := model.PoolWindowMetrics{
		ChainID:             acc.ChainID,
		PoolAddress:         acc.PoolAddress,
		WindowSizeSecs:      int64(a.cfg.WindowSeconds),
		WindowStart:         time.Unix(int64(acc.WindowStart), 0).UTC(),
		WindowEnd:           time.Unix(int64(acc.WindowEnd), 0).UTC(),
		EventCount:          acc.EventCount,
		Deposited:           formatAmount(acc.Deposited),
		Withdrawn:           formatAmount(acc.Withdrawn),
		Borrowed:            formatAmount(acc.Borrowed),
		Repaid:              formatAmount(acc.Repaid),
		Interest:            formatAmount(acc.Interest),
		Fees:                formatAmount(acc.Fees),
		LiquidatedPrincipal: formatAmount(acc.LiquidatedPrincipal),
		LoansOpened:         acc.LoansOpened,
		LoansRepaid:         acc.LoansRepaid,
		LoansLiquidated:     acc.LoansLiquidated,
	}
	if acc.position != nil {
		m.Utilization = utilization(acc.position)
	}
	return m
}

func (a *Aggregator) loadStartTimestamp(ctx context.Context) (uint64, error) {
	if a.cfg.RecomputeFrom > 0 {
		return a.cfg.RecomputeFrom - 1, nil
	}
	if a.cfg.StateStore == nil {
		return 0, nil
	}
	last, ok, err := a.cfg.StateStore.Load(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return last, nil
}

// saveState records the newest timestamp whose window is closed. The last
// window of every pool counts as open and is recomputed on the next run.
func (a *Aggregator) saveState(ctx context.Context, maxTs uint64) error {
	if a.cfg.StateStore == nil {
		return nil
	}
	safeTs := maxTs
	if open := minOpenWindowStart(a.accumulators); open > 0 {
		safeTs = open - 1
	}
	return a.cfg.StateStore.Save(ctx, safeTs)
}

func formatAmount(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, amountExp).String()
}

// utilization is outstanding principal over the pool's total assets.
func utilization(pos *Position) *string {
	assets := new(big.Int).Add(pos.Balance, pos.Outstanding)
	if assets.Sign() <= 0 {
		return nil
	}
	ratio := decimal.NewFromBigInt(pos.Outstanding, 0).Div(decimal.NewFromBigInt(assets, 0))
	text := ratio.StringFixed(utilizationPlaces)
	return &text
}

func windowStart(ts uint64, windowSec uint64) uint64 {
	return ts - (ts % windowSec)
}

func poolKey(address string) string {
	return strings.ToLower(address)
}

func minOpenWindowStart(acc map[string]*Accumulator) uint64 {
	var min uint64
	for _, entry := range acc {
		if entry == nil {
			continue
		}
		if min == 0 || entry.WindowStart < min {
			min = entry.WindowStart
		}
	}
	return min
}
