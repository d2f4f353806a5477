package metrics

import (
	"sync/atomic"
	"time"
)

type Collector struct {
	totalRequests       atomic.Uint64
	errorRequests       atomic.Uint64
	rateLimited         atomic.Uint64
	totalDurationMs     atomic.Uint64
	ledgerApplied       atomic.Uint64
	ledgerReplayed      atomic.Uint64
	ledgerRetries       atomic.Uint64
	insufficientBalance atomic.Uint64
	jobRuns             atomic.Uint64
	jobFailures         atomic.Uint64
}

func New() *Collector {
	return &Collector{}
}

func (c *Collector) Record(status int, duration time.Duration) {
	c.totalRequests.Add(1)
	if status >= 500 {
		c.errorRequests.Add(1)
	}
	if status == 429 {
		c.rateLimited.Add(1)
	}
	c.totalDurationMs.Add(uint64(duration.Milliseconds()))
}

func (c *Collector) LedgerApplied(replayed bool) {
	if replayed {
		c.ledgerReplayed.Add(1)
		return
	}
	c.ledgerApplied.Add(1)
}

func (c *Collector) LedgerRetry() {
	c.ledgerRetries.Add(1)
}

func (c *Collector) InsufficientBalance() {
	c.insufficientBalance.Add(1)
}

func (c *Collector) JobRun(failedItems int) {
	c.jobRuns.Add(1)
	c.jobFailures.Add(uint64(failedItems))
}

func (c *Collector) Snapshot() map[string]any {
	total := c.totalRequests.Load()
	totalMs := c.totalDurationMs.Load()
	avg := float64(0)
	if total > 0 {
		avg = float64(totalMs) / float64(total)
	}
	return map[string]any{
		"requestsTotal":            total,
		"errorsTotal":              c.errorRequests.Load(),
		"rateLimitedTotal":         c.rateLimited.Load(),
		"avgDurationMs":            avg,
		"totalDurationMs":          totalMs,
		"ledgerTransactionsTotal":  c.ledgerApplied.Load(),
		"ledgerReplaysTotal":       c.ledgerReplayed.Load(),
		"ledgerRetriesTotal":       c.ledgerRetries.Load(),
		"insufficientBalanceTotal": c.insufficientBalance.Load(),
		"jobRunsTotal":             c.jobRuns.Load(),
		"jobItemFailuresTotal":     c.jobFailures.Load(),
	}
}
