package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BearBump/FleetBox/internal/integrations/fleet"
	"github.com/BearBump/FleetBox/internal/models"
	"github.com/BearBump/FleetBox/internal/pkg/log"
	"github.com/BearBump/FleetBox/internal/pkg/metrics"
	"github.com/BearBump/FleetBox/internal/pkg/retry"
	"github.com/BearBump/FleetBox/internal/services/transform"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
)

type Transformer interface {
	Transform(snapshots []models.AssetSnapshot) transform.Result
}

type Writer interface {
	Store(ctx context.Context, rows []models.VehicleStatusRow) (models.StoreReport, error)
}

// ResultPublisher keeps the latest run result for health reporting.
type ResultPublisher interface {
	Publish(res models.IngestionRunResult)
}

// Sink receives every run result. Sink failures never affect the cycle outcome.
type Sink interface {
	PublishRun(ctx context.Context, res models.IngestionRunResult) error
}

type Options struct {
	Credentials models.Credentials
	Schedule    retry.Schedule // default: 2s, 4s (3 attempts)
	Results     ResultPublisher
	Sinks       []Sink
	SinkTimeout time.Duration // default: 5s
}

// Orchestrator runs one ingestion cycle at a time:
// authenticate, fetch, transform, store, with retries.
type Orchestrator struct {
	client      fleet.Client
	transformer Transformer
	writer      Writer

	creds       models.Credentials
	schedule    retry.Schedule
	results     ResultPublisher
	sinks       []Sink
	sinkTimeout time.Duration

	now    func() time.Time
	logger log.Logger

	mu    sync.Mutex
	phase *fsm.FSM
}

func New(client fleet.Client, tr Transformer, w Writer, opts Options) *Orchestrator {
	if opts.Schedule == nil {
		opts.Schedule = retry.Exponential(time.Second, 3)
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 5 * time.Second
	}
	logger := log.WithName("ingest")
	return &Orchestrator{
		client:      client,
		transformer: tr,
		writer:      w,
		creds:       opts.Credentials,
		schedule:    opts.Schedule,
		results:     opts.Results,
		sinks:       opts.Sinks,
		sinkTimeout: opts.SinkTimeout,
		now:         time.Now,
		logger:      logger,
		phase:       newPhaseMachine(logger),
	}
}

// Phase returns the current cycle phase.
func (o *Orchestrator) Phase() string {
	return o.phase.Current()
}

// cycle holds what one run has obtained so far; it survives retries.
type cycle struct {
	snapshots   []models.AssetSnapshot
	fetched     bool
	rows        []models.VehicleStatusRow
	transformed bool
	report      models.StoreReport
}

// RunCycle executes one full ingestion cycle and publishes its result.
// Concurrent calls are serialized.
func (o *Orchestrator) RunCycle(ctx context.Context) models.IngestionRunResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := o.now()
	runID := uuid.NewString()
	logger := o.logger.WithValues("run_id", runID)
	if o.phase.Can(EventReset) {
		o.fire(ctx, logger, EventReset)
	}

	c := &cycle{}
	attempts, err := retry.Do(ctx, o.schedule, func(attempt int) error {
		logger.Info("ingestion attempt", "attempt", attempt, "max_attempts", o.schedule.Attempts())
		if err := o.attempt(ctx, logger, c); err != nil {
			o.fire(ctx, logger, EventFail)
			logger.Error(err, "ingestion attempt failed", "attempt", attempt)
			return err
		}
		return nil
	}, func(err error, attempt int, wait time.Duration) {
		logger.Info("waiting before retry", "attempt", attempt, "wait", wait)
	})

	res := models.IngestionRunResult{
		RunID:         runID,
		Success:       err == nil,
		Timestamp:     o.now().UTC(),
		RowsAttempted: len(c.rows),
		Snapshots:     len(c.snapshots),
		Attempts:      attempts,
	}
	if err != nil {
		if o.phase.Can(EventFail) {
			o.fire(ctx, logger, EventFail)
		}
		res.RowsFailed = c.report.Failed
		if res.RowsFailed == 0 {
			res.RowsFailed = len(c.rows)
		}
		res.Error = err.Error()
		logger.Warn("all attempts failed, will try again at next scheduled interval", "attempts", attempts)
	} else {
		logger.Info("ingestion cycle succeeded", "rows", res.RowsAttempted, "snapshots", res.Snapshots, "attempts", attempts)
	}

	o.publish(ctx, logger, res, o.now().Sub(start))
	return res
}

func (o *Orchestrator) attempt(ctx context.Context, logger log.Logger, c *cycle) error {
	if !c.fetched {
		o.fire(ctx, logger, EventAuthenticate)
		token, err := o.client.Authenticate(ctx, o.creds)
		if err != nil {
			return err
		}

		o.fire(ctx, logger, EventFetch)
		snapshots, err := o.client.FetchAssets(ctx, token)
		if err != nil {
			return err
		}
		c.snapshots, c.fetched = snapshots, true
	}

	if !c.transformed {
		o.fire(ctx, logger, EventTransform)
		c.rows = o.transformer.Transform(c.snapshots).Rows
		c.transformed = true
	}

	if len(c.rows) == 0 {
		logger.Info("no valid data to store")
		o.fire(ctx, logger, EventSucceed)
		return nil
	}

	o.fire(ctx, logger, EventStore)
	rep, err := o.writer.Store(ctx, c.rows)
	c.report = rep
	if err != nil {
		return err
	}
	if !rep.OK() {
		return fmt.Errorf("store: %d of %d rows failed", rep.Failed, rep.Attempted)
	}

	o.fire(ctx, logger, EventSucceed)
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, logger log.Logger, res models.IngestionRunResult, took time.Duration) {
	outcome := "failed"
	if res.Success {
		outcome = "success"
		metrics.LastSuccessTimestamp.Set(float64(res.Timestamp.Unix()))
	}
	metrics.CyclesTotal.WithLabelValues(outcome).Inc()
	metrics.CycleDuration.Observe(took.Seconds())

	if o.results != nil {
		o.results.Publish(res)
	}

	// результат публикуем даже если цикл отменили
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.sinkTimeout)
	defer cancel()
	for _, s := range o.sinks {
		if err := s.PublishRun(sinkCtx, res); err != nil {
			logger.Error(err, "publish run result")
		}
	}
}

func (o *Orchestrator) fire(ctx context.Context, logger log.Logger, event string) {
	if err := o.phase.Event(context.WithoutCancel(ctx), event); isFsmRealError(err) {
		logger.Warn("unexpected phase transition", "event", event, "phase", o.phase.Current(), "error", err)
	}
}
