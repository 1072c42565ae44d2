/*
scheduler.go - Periodic low-stock monitor

PURPOSE:
  Periodically scans the catalog for active products at or below their
  minimum stock, publishes the count to Prometheus and logs a warning per
  product so the front desk can reorder before billing starts failing.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Checks once immediately on start
  - Each check runs with its own timeout so a stuck store cannot wedge it

USAGE:
  monitor := NewLowStockMonitor(services.Inventory, m, logger)
  monitor.Start()
  // ... later
  monitor.Stop()

SEE ALSO:
  - handlers.go: ListLowStock endpoint (on-demand scan)
  - clinic/inventory.go: InventoryLedger.LowStock
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/clinic-engine/clinic"
	"github.com/warp/clinic-engine/metrics"
)

// LowStockSource lists products at or below their minimum stock.
type LowStockSource interface {
	LowStock(ctx context.Context) ([]clinic.Product, error)
}

// LowStockMonitor runs low-stock scans on a ticker.
type LowStockMonitor struct {
	Source        LowStockSource
	Metrics       *metrics.ClinicMetrics
	Logger        zerolog.Logger
	CheckInterval time.Duration
	CheckTimeout  time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu    sync.Mutex
	lastCheck time.Time
	lastCount int
}

// NewLowStockMonitor creates a new monitor.
func NewLowStockMonitor(source LowStockSource, m *metrics.ClinicMetrics, logger zerolog.Logger) *LowStockMonitor {
	return &LowStockMonitor{
		Source:        source,
		Metrics:       m,
		Logger:        logger.With().Str("component", "low_stock_monitor").Logger(),
		CheckInterval: 15 * time.Minute,
		CheckTimeout:  30 * time.Second,
		Enabled:       true,
	}
}

// Start begins the monitor.
func (lm *LowStockMonitor) Start() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if !lm.Enabled || lm.CheckInterval <= 0 {
		lm.Logger.Info().Msg("low-stock monitor disabled, not starting")
		return
	}
	if lm.ticker != nil {
		return
	}

	lm.ticker = time.NewTicker(lm.CheckInterval)
	lm.stop = make(chan struct{})
	lm.wg.Add(1)

	go lm.run(lm.ticker, lm.stop)

	lm.Logger.Info().Dur("interval", lm.CheckInterval).Msg("low-stock monitor started")
}

// Stop stops the monitor and waits for an in-flight check.
func (lm *LowStockMonitor) Stop() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.ticker != nil {
		lm.ticker.Stop()
		close(lm.stop)
		lm.wg.Wait()
		lm.ticker = nil
		lm.Logger.Info().Msg("low-stock monitor stopped")
	}
}

func (lm *LowStockMonitor) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer lm.wg.Done()

	lm.CheckNow(context.Background())

	for {
		select {
		case <-ticker.C:
			lm.CheckNow(context.Background())
		case <-stop:
			return
		}
	}
}

// CheckNow runs one scan and returns the low products.
func (lm *LowStockMonitor) CheckNow(ctx context.Context) ([]clinic.Product, error) {
	if lm.CheckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, lm.CheckTimeout)
		defer cancel()
	}

	products, err := lm.Source.LowStock(ctx)
	if err != nil {
		lm.Logger.Error().Err(err).Msg("low-stock check failed")
		return nil, err
	}

	lm.Metrics.ObserveLowStock(products)
	for _, p := range products {
		lm.Logger.Warn().
			Str("product_id", string(p.ID)).
			Str("name", p.Name).
			Int("stock", p.Stock).
			Int("min_stock", p.MinStock).
			Msg("product at or below minimum stock")
	}

	lm.lastMu.Lock()
	lm.lastCheck = time.Now()
	lm.lastCount = len(products)
	lm.lastMu.Unlock()

	return products, nil
}

// LastCheck returns when the last successful scan ran and how many
// products it found.
func (lm *LowStockMonitor) LastCheck() (time.Time, int) {
	lm.lastMu.Lock()
	defer lm.lastMu.Unlock()
	return lm.lastCheck, lm.lastCount
}
