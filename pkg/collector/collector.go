package collector

import (
	"context"
	"errors"
	"math"
	"time"

	"auditpoller/pkg/checkpoint"
	errs "auditpoller/pkg/errors"
	"auditpoller/pkg/logger"
	"auditpoller/pkg/sink"
	"auditpoller/pkg/tenable"
)

const (
	// DefaultPageLimit is the page size requested from the API
	DefaultPageLimit = tenable.DefaultPageLimit
	// DefaultLookback is how far back a first run starts (89 days)
	DefaultLookback = 7689600 * time.Second
)

// EventSource fetches one page of events received after a calendar date
type EventSource interface {
	FetchEvents(ctx context.Context, since string, limit int) (*tenable.EventsPage, error)
}

// Config holds per-input collector settings
type Config struct {
	Input     string
	Domain    string
	PageLimit int
	Lookback  time.Duration
	// Now is the clock; nil means time.Now
	Now func() time.Time
}

// Result summarizes one run
type Result struct {
	Window    Window
	Returned  int
	Emitted   int
	Skipped   int
	Malformed int
	Truncated bool
	// LostSeconds is the span given up by a truncation
	LostSeconds int64
	Previous    int64
	Next        int64
	// ColdStart is set when no usable checkpoint existed
	ColdStart bool
	// Failed is set when the API call failed and nothing was emitted
	Failed bool
}

// Collector runs incremental fetches for one input
type Collector struct {
	cfg    Config
	source EventSource
	store  checkpoint.Store
	sink   sink.Sink
	logger logger.Logger
}

// New creates a collector. Zero config values take defaults.
func New(cfg Config, src EventSource, store checkpoint.Store, out sink.Sink, log logger.Logger) *Collector {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = DefaultPageLimit
	}
	// the API never returns more than MaxPageLimit, so a larger limit
	// would hide a capped page
	if cfg.PageLimit > tenable.MaxPageLimit {
		cfg.PageLimit = tenable.MaxPageLimit
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.GetLogger()
	}

	return &Collector{
		cfg:    cfg,
		source: src,
		store:  store,
		sink:   out,
		logger: log.WithField("input", cfg.Input),
	}
}

// Run performs one fetch pass. A failed API call is logged, persists the
// starting watermark and is returned as the error alongside the result.
// Sink and checkpoint failures leave the stored watermark untouched.
func (c *Collector) Run(ctx context.Context) (*Result, error) {
	now := c.cfg.Now().Unix()
	start, cold := c.startingWatermark(now)

	window := PlanWindow(start, now)
	result := &Result{
		Window:    window,
		Previous:  start,
		Next:      start,
		ColdStart: cold,
	}

	c.logger.InfoWithFields("starting audit-log fetch", map[string]interface{}{
		"start":       start,
		"next_floor":  window.NextFloor,
		"date_filter": window.DateFilter,
	})

	page, fetchErr := c.source.FetchEvents(ctx, window.DateFilter, c.cfg.PageLimit)
	if fetchErr != nil {
		result.Failed = true
		c.logFetchError(fetchErr)
		if err := c.save(start); err != nil {
			return result, err
		}
		return result, fetchErr
	}

	batch := ProcessPage(page, window, c.cfg.PageLimit)
	result.Returned = batch.Returned
	result.Skipped = batch.Skipped
	result.Malformed = len(batch.Rejected)
	for _, err := range batch.Rejected {
		c.logger.WithError(err).Warn("skipping event with unreadable timestamp")
	}

	if batch.Capped {
		c.logger.DebugWithFields("page capped", map[string]interface{}{
			"returned": batch.Returned,
			"total":    page.Pagination.Total,
			"limit":    c.cfg.PageLimit,
		})
	}

	if err := c.emit(ctx, batch.Records); err != nil {
		return result, err
	}
	result.Emitted = len(batch.Records)

	if batch.Truncated {
		result.Truncated = true
		result.LostSeconds = batch.LostSeconds
		c.logger.WarnWithFields("some events will be lost: the page limit was reached within a single day", map[string]interface{}{
			"date":         window.DateFilter,
			"limit":        c.cfg.PageLimit,
			"from":         batch.End - batch.LostSeconds,
			"to":           batch.End,
			"minutes_lost": batch.LostSeconds / 60,
		})
	}

	c.logger.InfoWithFields("audit-log fetch complete", map[string]interface{}{
		"written":         result.Emitted,
		"returned":        result.Returned,
		"days_covered":    daysCovered(start, batch.End),
		"next_checkpoint": batch.End,
	})

	if err := c.save(batch.End); err != nil {
		return result, err
	}
	result.Next = batch.End
	return result, nil
}

// startingWatermark loads the checkpoint or falls back to the lookback horizon
func (c *Collector) startingWatermark(now int64) (int64, bool) {
	wm, ok, err := c.store.Load(c.cfg.Input)
	if err != nil {
		c.logger.WithError(err).Warn("checkpoint unreadable, ignoring it")
	}
	if ok {
		return wm, false
	}

	start := now - int64(c.cfg.Lookback/time.Second)
	c.logger.WarnWithFields("no checkpoint found, starting from lookback horizon", map[string]interface{}{
		"lookback": c.cfg.Lookback,
		"start":    start,
	})
	return start, true
}

func (c *Collector) emit(ctx context.Context, records []Record) error {
	for _, rec := range records {
		ev := sink.Event{
			Time:   rec.Time,
			Host:   c.cfg.Domain,
			Source: tenable.EventsPath,
			Data:   rec.Data,
		}
		if err := c.sink.Write(ctx, ev); err != nil {
			c.logger.WithError(err).Error("failed to write event, checkpoint not advanced")
			return errs.Wrap(errs.ErrorTypeSink, err, "write event for %s", c.cfg.Input)
		}
	}
	if err := c.sink.Flush(ctx); err != nil {
		c.logger.WithError(err).Error("failed to flush events, checkpoint not advanced")
		return errs.Wrap(errs.ErrorTypeSink, err, "flush events for %s", c.cfg.Input)
	}
	return nil
}

func (c *Collector) save(wm int64) error {
	if err := c.store.Save(c.cfg.Input, wm); err != nil {
		c.logger.WithError(err).Error("failed to save checkpoint")
		return errs.Wrap(errs.ErrorTypeCheckpoint, err, "save checkpoint for %s", c.cfg.Input)
	}
	return nil
}

func (c *Collector) logFetchError(err error) {
	fields := map[string]interface{}{"error": err.Error()}

	var apiErr *errs.Error
	if errors.As(err, &apiErr) {
		fields["type"] = string(apiErr.Type)
		if apiErr.Code != 0 {
			fields["status"] = apiErr.Code
			fields["body"] = apiErr.Message
		}
	}
	c.logger.ErrorWithFields("audit-log request failed, checkpoint unchanged", fields)
}

func daysCovered(start, end int64) float64 {
	return math.Round(float64(end-start)/secondsPerDay*10) / 10
}
