package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"retail-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// declinedResultCode is what the simulated gateway reports for a failed payment
	declinedResultCode = 1032
	deliveryAttempts   = 3
)

// ResultSink receives the outcome the simulated gateway reports for a reference.
// resultCode 0 means success. A non-nil error makes the gateway deliver again.
type ResultSink func(ctx context.Context, reference string, resultCode int) error

// SimulatedGateway accepts every payment and reports a random outcome after a short delay
type SimulatedGateway struct {
	mu          sync.Mutex
	rng         *rand.Rand
	successRate float64
	delay       func() time.Duration
	sink        ResultSink
	logger      *zap.Logger
	wg          sync.WaitGroup
}

// NewSimulatedGateway creates a simulated gateway. successRate is in [0, 1].
func NewSimulatedGateway(successRate float64, sink ResultSink) *SimulatedGateway {
	g := &SimulatedGateway{
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		successRate: successRate,
		sink:        sink,
		logger:      util.GetLogger(),
	}
	g.delay = func() time.Duration {
		g.mu.Lock()
		defer g.mu.Unlock()
		return time.Duration(100+g.rng.Intn(400)) * time.Millisecond
	}
	return g
}

// SetSink replaces the result sink
func (g *SimulatedGateway) SetSink(sink ResultSink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sink = sink
}

// SetDelay overrides the notification delay
func (g *SimulatedGateway) SetDelay(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delay = func() time.Duration { return d }
}

// InitiatePayment returns a fresh reference and schedules the result notification
func (g *SimulatedGateway) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	_, span := util.StartSpan(ctx, "SimulatedGateway.InitiatePayment")
	defer span.End()

	reference := fmt.Sprintf("SIM-%s", uuid.New().String()[:8])

	g.mu.Lock()
	succeeded := g.rng.Float64() < g.successRate
	sink := g.sink
	delayFn := g.delay
	g.mu.Unlock()

	resultCode := 0
	if !succeeded {
		resultCode = declinedResultCode
	}

	g.logger.Info("Simulated payment initiated",
		zap.String("account_reference", req.AccountReference),
		zap.String("external_reference_id", reference),
		zap.Int("result_code", resultCode))

	if sink != nil {
		delay := delayFn()
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			time.Sleep(delay)

			g.deliver(sink, reference, resultCode, delay)
		}()
	}

	return &PaymentResponse{ExternalReferenceID: reference}, nil
}

// deliver calls sink, retrying a few times since the result may race the caller
// recording the reference
func (g *SimulatedGateway) deliver(sink ResultSink, reference string, resultCode int, backoff time.Duration) {
	var err error
	for attempt := 1; attempt <= deliveryAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = sink(ctx, reference, resultCode)
		cancel()
		if err == nil {
			return
		}
		if attempt < deliveryAttempts {
			time.Sleep(time.Duration(attempt) * backoff)
		}
	}
	g.logger.Error("Failed to deliver simulated payment result",
		zap.String("external_reference_id", reference),
		zap.Int("attempts", deliveryAttempts),
		zap.Error(err))
}

// Wait blocks until every scheduled notification was delivered
func (g *SimulatedGateway) Wait() {
	g.wg.Wait()
}
