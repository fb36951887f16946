package ingestor

import (
	"context"
	"sync"
	"time"

	logger "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Logger"
	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
	interfaces "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Repository/Interfaces"
)

// ReadingSource is the transport side of the pipeline
type ReadingSource interface {
	Run(ctx context.Context) error
	Readings() <-chan iowmodels.Reading
	State() iowmodels.ConnectionState
	Subscribe() (<-chan iowmodels.StateChange, func())
}

type ReadingEvaluator interface {
	Evaluate(ctx context.Context, reading iowmodels.Reading) (*iowmodels.TriggeredEvent, error)
}

// Ingestor drives the telemetry pipeline: transport -> snapshot cache -> evaluator
type Ingestor struct {
	source       ReadingSource
	evaluator    ReadingEvaluator
	cache        interfaces.LatestReadingCache
	storeTimeout time.Duration
	restartMin   time.Duration
	restartMax   time.Duration
	logger       *logger.Logger
}

type Option func(*Ingestor)

// WithRestartBackoff bounds the delay before the transport is run again
// after a terminal error
func WithRestartBackoff(min, max time.Duration) Option {
	return func(i *Ingestor) {
		i.restartMin = min
		i.restartMax = max
	}
}

func New(source ReadingSource, evaluator ReadingEvaluator, cache interfaces.LatestReadingCache, storeTimeout time.Duration, log *logger.Logger, opts ...Option) *Ingestor {
	i := &Ingestor{
		source:       source,
		evaluator:    evaluator,
		cache:        cache,
		storeTimeout: storeTimeout,
		restartMin:   time.Second,
		restartMax:   time.Minute,
		logger:       log.WithComponent("ingestor"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run keeps the transport running until ctx is done. A terminal transport
// error ends only the current run: the transport is started again after a
// capped exponential delay. Run returns nil once the transport stops cleanly.
func (i *Ingestor) Run(ctx context.Context) error {
	delay := i.restartMin
	for {
		err := i.runOnce(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}

		i.logger.Logger.Error().Err(err).Dur("restart_in", delay).Msg("Telemetry transport stopped, restarting")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		delay *= 2
		if delay > i.restartMax || delay <= 0 {
			delay = i.restartMax
		}
	}
}

// runOnce blocks until the transport stops and every reading it delivered
// has been evaluated
func (i *Ingestor) runOnce(ctx context.Context) error {
	changes, release := i.source.Subscribe()
	readings := i.source.Readings()
	i.recordState(ctx, i.source.State())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for change := range changes {
			i.recordState(ctx, change.To)
		}
	}()
	go func() {
		defer wg.Done()
		for reading := range readings {
			i.handle(ctx, reading)
		}
	}()

	err := i.source.Run(ctx)
	release()
	wg.Wait()
	return err
}

func (i *Ingestor) handle(ctx context.Context, reading iowmodels.Reading) {
	// a reading already taken from the mailbox is finished even during shutdown
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.storeTimeout)
	defer cancel()

	if err := i.cache.SetReading(storeCtx, reading); err != nil {
		i.logger.Logger.Warn().Err(err).Msg("Failed to cache latest reading")
	}

	if _, err := i.evaluator.Evaluate(storeCtx, reading); err != nil {
		i.logger.Logger.Error().Err(err).
			Float64("temperature", reading.Value).
			Time("observed_at", reading.ObservedAt).
			Msg("Dropping reading after evaluation failure")
	}
}

func (i *Ingestor) recordState(ctx context.Context, state iowmodels.ConnectionState) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.storeTimeout)
	defer cancel()

	if err := i.cache.SetState(storeCtx, state); err != nil {
		i.logger.Logger.Warn().Err(err).Stringer("state", state).Msg("Failed to cache connection state")
	}
}
