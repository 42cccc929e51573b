package worker

import (
	"context"
	"errors"
	"time"

	"retail-service/internal/broker"
	"retail-service/internal/models"
	"retail-service/internal/util"

	"go.uber.org/zap"
)

// PaymentResultHandler settles a payment from a gateway result event
type PaymentResultHandler interface {
	HandlePaymentResult(ctx context.Context, event *models.PaymentResultEvent) error
}

// PaymentResultWorker feeds payment results from kafka into the reconciler
type PaymentResultWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewPaymentResultWorker creates a new payment result worker
func NewPaymentResultWorker(consumer *broker.Consumer, handler PaymentResultHandler) *PaymentResultWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentResult(skipInvalid(handler.HandlePaymentResult))

	return &PaymentResultWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *PaymentResultWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment result worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentResultWorker) Stop() error {
	w.logger.Info("Stopping payment result worker")
	return w.consumer.Close()
}

// skipInvalid acknowledges malformed results instead of retrying them
func skipInvalid(fn func(context.Context, *models.PaymentResultEvent) error) func(context.Context, *models.PaymentResultEvent) error {
	return func(ctx context.Context, event *models.PaymentResultEvent) error {
		err := fn(ctx, event)
		var validation *models.ValidationError
		if errors.As(err, &validation) {
			util.GetLogger().Warn("Skipping invalid payment result",
				zap.String("event_id", event.EventID),
				zap.Error(err))
			return nil
		}
		return err
	}
}

// Sweeper expires pending sales
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

const defaultSweepInterval = time.Minute

// SweepWorker runs a Sweeper on a fixed interval
type SweepWorker struct {
	sweeper  Sweeper
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewSweepWorker creates a new sweep worker. A non-positive interval falls back to one minute.
func NewSweepWorker(sweeper Sweeper, interval time.Duration) *SweepWorker {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &SweepWorker{
		sweeper:  sweeper,
		interval: interval,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// Start sweeps once per interval until ctx is cancelled
func (w *SweepWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting pending sale sweeper", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping pending sale sweeper")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.sweeper.Sweep(ctx, w.now())
			if err != nil {
				w.logger.Error("Pending sale sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				w.logger.Info("Pending sale sweep finished", zap.Int("cancelled", n))
			}
		}
	}
}
