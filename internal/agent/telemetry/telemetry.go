// Package telemetry tracks question throughput, per-stage latency, judge
// degradations and LLM spend. Snapshots back the CLI report; the prometheus
// collectors back /metrics.
package telemetry

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohammad-safakhou/roadbook/config"
)

// Telemetry provides monitoring and cost tracking for the ask pipeline.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
	mu          sync.RWMutex
}

// Metrics holds pipeline performance counters.
type Metrics struct {
	TotalAsks      int64
	SuccessfulAsks int64
	FailedAsks     int64
	CacheHits      int64
	AverageLatency time.Duration

	// Per-stage average durations, keyed by stage name
	// (retrieve, generate, filter_images, citations).
	StageCounts   map[string]int64
	StageAverages map[string]time.Duration

	JudgeDegradations int64
	ImagesIncluded    int64
	CitationsEmitted  int64
	IndexerRuns       map[string]int64 // status -> count
}

// CostTracker accumulates LLM spend.
type CostTracker struct {
	ModelCosts  map[string]float64
	ModelTokens map[string]int64
	TotalCost   float64
	TotalTokens int64
}

// AskEvent describes one completed (or failed) question.
type AskEvent struct {
	ID         string
	Query      string
	Success    bool
	CacheHit   bool
	Error      string
	Elapsed    time.Duration
	Model      string
	TokensUsed int64
	Cost       float64
	Citations  int
	Images     int
}

var (
	promAsks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadbook_asks_total",
		Help: "Questions processed, by outcome.",
	}, []string{"outcome"})
	promCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roadbook_ask_cache_hits_total",
		Help: "Questions answered from the cache.",
	})
	promStageSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roadbook_stage_duration_seconds",
		Help:    "Pipeline stage latency.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"stage"})
	promJudgeDegradations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roadbook_judge_degradations_total",
		Help: "Image judge calls that fell back to keyword scoring.",
	})
	promTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadbook_llm_tokens_total",
		Help: "LLM tokens consumed, by model.",
	}, []string{"model"})
	promCost = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadbook_llm_cost_dollars_total",
		Help: "LLM spend in dollars, by model.",
	}, []string{"model"})
	promIndexerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadbook_indexer_runs_total",
		Help: "Indexer runs triggered by the scheduler, by status.",
	}, []string{"status"})
)

// NewTelemetry creates a new telemetry instance.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			StageCounts:   make(map[string]int64),
			StageAverages: make(map[string]time.Duration),
			IndexerRuns:   make(map[string]int64),
		},
		costTracker: &CostTracker{
			ModelCosts:  make(map[string]float64),
			ModelTokens: make(map[string]int64),
		},
	}

	if cfg.Enabled && cfg.PeriodicLogs {
		go t.startPeriodicReporting()
	}

	return t
}

// RecordAsk records one completed question.
func (t *Telemetry) RecordAsk(event AskEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalAsks++
	outcome := "success"
	if event.Success {
		t.metrics.SuccessfulAsks++
	} else {
		t.metrics.FailedAsks++
		outcome = "failure"
	}
	promAsks.WithLabelValues(outcome).Inc()
	if event.CacheHit {
		t.metrics.CacheHits++
		promCacheHits.Inc()
	}

	if t.metrics.TotalAsks == 1 {
		t.metrics.AverageLatency = event.Elapsed
	} else {
		total := t.metrics.AverageLatency * time.Duration(t.metrics.TotalAsks-1)
		t.metrics.AverageLatency = (total + event.Elapsed) / time.Duration(t.metrics.TotalAsks)
	}

	t.metrics.CitationsEmitted += int64(event.Citations)
	t.metrics.ImagesIncluded += int64(event.Images)

	if t.config.CostTracking && event.Model != "" {
		t.costTracker.TotalCost += event.Cost
		t.costTracker.TotalTokens += event.TokensUsed
		t.costTracker.ModelCosts[event.Model] += event.Cost
		t.costTracker.ModelTokens[event.Model] += event.TokensUsed
		promTokens.WithLabelValues(event.Model).Add(float64(event.TokensUsed))
		promCost.WithLabelValues(event.Model).Add(event.Cost)
	}

	t.logger.Printf("Ask: ID=%s, Success=%t, CacheHit=%t, Elapsed=%v, Cost=$%.4f, Tokens=%d, Citations=%d, Images=%d",
		event.ID, event.Success, event.CacheHit, event.Elapsed, event.Cost, event.TokensUsed, event.Citations, event.Images)
}

// RecordStage records one pipeline stage duration.
func (t *Telemetry) RecordStage(stage string, d time.Duration) {
	if !t.config.Enabled {
		return
	}
	promStageSeconds.WithLabelValues(stage).Observe(d.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.StageCounts[stage]++
	n := t.metrics.StageCounts[stage]
	if n == 1 {
		t.metrics.StageAverages[stage] = d
		return
	}
	total := t.metrics.StageAverages[stage] * time.Duration(n-1)
	t.metrics.StageAverages[stage] = (total + d) / time.Duration(n)
}

// RecordJudgeDegradation records a judge call that fell back to keyword
// scoring mid-filter.
func (t *Telemetry) RecordJudgeDegradation() {
	if !t.config.Enabled {
		return
	}
	promJudgeDegradations.Inc()
	t.mu.Lock()
	t.metrics.JudgeDegradations++
	t.mu.Unlock()
}

// RecordIndexerRun records the outcome of one scheduled indexer run.
func (t *Telemetry) RecordIndexerRun(status string, elapsed time.Duration) {
	if !t.config.Enabled {
		return
	}
	promIndexerRuns.WithLabelValues(status).Inc()
	t.mu.Lock()
	t.metrics.IndexerRuns[status]++
	t.mu.Unlock()
	t.logger.Printf("Indexer run: status=%s elapsed=%v", status, elapsed)
}

// GetMetrics returns a copy of the current metrics.
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	metrics := *t.metrics
	metrics.StageCounts = make(map[string]int64, len(t.metrics.StageCounts))
	metrics.StageAverages = make(map[string]time.Duration, len(t.metrics.StageAverages))
	metrics.IndexerRuns = make(map[string]int64, len(t.metrics.IndexerRuns))
	for k, v := range t.metrics.StageCounts {
		metrics.StageCounts[k] = v
	}
	for k, v := range t.metrics.StageAverages {
		metrics.StageAverages[k] = v
	}
	for k, v := range t.metrics.IndexerRuns {
		metrics.IndexerRuns[k] = v
	}
	return metrics
}

// GetCostSummary returns a copy of the accumulated spend.
func (t *Telemetry) GetCostSummary() CostSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	summary := CostSummary{
		TotalCost:   t.costTracker.TotalCost,
		TotalTokens: t.costTracker.TotalTokens,
		ModelCosts:  make(map[string]float64, len(t.costTracker.ModelCosts)),
		ModelTokens: make(map[string]int64, len(t.costTracker.ModelTokens)),
	}
	for k, v := range t.costTracker.ModelCosts {
		summary.ModelCosts[k] = v
	}
	for k, v := range t.costTracker.ModelTokens {
		summary.ModelTokens[k] = v
	}
	return summary
}

// CostSummary provides a summary of LLM spend.
type CostSummary struct {
	TotalCost   float64
	TotalTokens int64
	ModelCosts  map[string]float64
	ModelTokens map[string]int64
}

func (t *Telemetry) startPeriodicReporting() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m := t.GetMetrics()
		c := t.GetCostSummary()
		t.logger.Printf("Snapshot: Asks=%d/%d, CacheHits=%d, AvgLatency=%v, TotalCost=$%.4f, Tokens=%d",
			m.SuccessfulAsks, m.TotalAsks, m.CacheHits, m.AverageLatency, c.TotalCost, c.TotalTokens)
	}
}

// Shutdown logs a final report.
func (t *Telemetry) Shutdown() {
	m := t.GetMetrics()
	c := t.GetCostSummary()
	t.logger.Printf("Final Report: Asks=%d (failed %d), CacheHits=%d, JudgeDegradations=%d, TotalCost=$%.4f, Tokens=%d",
		m.TotalAsks, m.FailedAsks, m.CacheHits, m.JudgeDegradations, c.TotalCost, c.TotalTokens)
}

// Report returns a human-readable performance report for the CLI.
func (t *Telemetry) Report() string {
	m := t.GetMetrics()
	c := t.GetCostSummary()

	report := fmt.Sprintf(`=== ROADBOOK PERFORMANCE ===
Asks: %d total, %d failed, %d cache hits
Average latency: %v
Judge degradations: %d
Citations emitted: %d, images included: %d
Total cost: $%.4f over %d tokens
`, m.TotalAsks, m.FailedAsks, m.CacheHits, m.AverageLatency,
		m.JudgeDegradations, m.CitationsEmitted, m.ImagesIncluded,
		c.TotalCost, c.TotalTokens)

	for stage, avg := range m.StageAverages {
		report += fmt.Sprintf("  stage %s: %d calls, %v avg\n", stage, m.StageCounts[stage], avg)
	}
	for model, tokens := range c.ModelTokens {
		report += fmt.Sprintf("  model %s: %d tokens, $%.4f\n", model, tokens, c.ModelCosts[model])
	}
	return report
}
