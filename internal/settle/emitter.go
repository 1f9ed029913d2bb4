package settle

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sender delivers one settlement signal. *Client satisfies it; tests
// substitute fakes.
type Sender interface {
	Send(ctx context.Context, sig Signal) error
}

// Alerter receives an operator alert when a signal is dropped after
// exhausting retries. Optional.
type Alerter interface {
	NotifyAll(ctx context.Context, title, message string) error
}

// Emitter delivers settlement signals asynchronously with capped exponential
// backoff. Emission never blocks the verification request path; a signal
// that still fails after the retry ceiling is logged and alerted, and the
// ledger outcome remains authoritative for later reconciliation.
type Emitter struct {
	sender      Sender
	alerter     Alerter
	maxRetries  int
	baseBackoff time.Duration
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// NewEmitter creates an Emitter. alerter may be nil.
func NewEmitter(sender Sender, alerter Alerter, maxRetries int, baseBackoff time.Duration, logger *slog.Logger) *Emitter {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseBackoff <= 0 {
		baseBackoff = 500 * time.Millisecond
	}
	return &Emitter{
		sender:      sender,
		alerter:     alerter,
		maxRetries:  maxRetries,
		baseBackoff: baseBackoff,
		logger:      logger.With(slog.String("component", "settle")),
	}
}

// Emit schedules delivery of sig on a background goroutine and returns
// immediately.
func (e *Emitter) Emit(sig Signal) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.deliver(sig)
	}()
}

// Drain blocks until all in-flight deliveries have finished.
func (e *Emitter) Drain() {
	e.wg.Wait()
}

func (e *Emitter) deliver(sig Signal) {
	backoff := e.baseBackoff

	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := e.sender.Send(ctx, sig)
		cancel()

		if err == nil {
			e.logger.Debug("settlement signal delivered",
				slog.String("trade_id", sig.TradeID),
				slog.Int("attempt", attempt+1),
			)
			return
		}

		if attempt >= e.maxRetries {
			e.logger.Error("settlement signal dropped after retries",
				slog.String("trade_id", sig.TradeID),
				slog.Int("attempts", attempt+1),
				slog.String("error", err.Error()),
			)
			if e.alerter != nil {
				alertCtx, alertCancel := context.WithTimeout(context.Background(), 10*time.Second)
				_ = e.alerter.NotifyAll(alertCtx, "settlement signal dropped",
					"trade "+sig.TradeID+" needs reconciliation: "+err.Error())
				alertCancel()
			}
			return
		}

		e.logger.Warn("settlement signal delivery failed, retrying",
			slog.String("trade_id", sig.TradeID),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		time.Sleep(backoff)
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}
