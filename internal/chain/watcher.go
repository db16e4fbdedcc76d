package chain

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	log "github.com/sirupsen/logrus"
)

// Watcher polls signature status until the transaction settles.
type Watcher struct {
	client  Client
	backoff Backoff
}

// NewWatcher constructs a Watcher; a zero backoff polls from 250ms up to 2s.
func NewWatcher(client Client, backoff Backoff) *Watcher {
	if backoff.Initial <= 0 {
		backoff = Backoff{Initial: 250 * time.Millisecond, Multiplier: 1.6, Jitter: 0.2, Max: 2 * time.Second}
	}
	return &Watcher{client: client, backoff: backoff}
}

// Watch emits every observed status of signature and closes the channel after a
// terminal status or when ctx is done. Transient RPC errors are logged and retried.
func (w *Watcher) Watch(ctx context.Context, signature string) <-chan SignatureStatus {
	updates := make(chan SignatureStatus, 1)
	go func() {
		defer close(updates)
		for attempt := 0; ; attempt++ {
			status, errStatus := w.client.SignatureStatus(ctx, signature)
			if errStatus != nil {
				if errors.Is(errStatus, ErrInvalidSignature) {
					updates <- SignatureStatus{Signature: signature, Status: StatusFailed, Err: errStatus.Error()}
					return
				}
				if ctx.Err() != nil {
					return
				}
				log.WithError(errStatus).WithField("signature", signature).Debug("chain: signature status poll failed")
			} else {
				select {
				case updates <- status:
				case <-ctx.Done():
					return
				}
				if status.Done() {
					return
				}
			}

			timer := time.NewTimer(w.backoff.Delay(attempt, rand.Float64()))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
	return updates
}

// Await blocks until signature settles or timeout elapses. It returns the last
// observed status together with ErrNotConfirmed when the wait runs out.
func (w *Watcher) Await(ctx context.Context, signature string, timeout time.Duration) (SignatureStatus, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	last := SignatureStatus{Signature: signature, Status: StatusPending}
	for status := range w.Watch(ctx, signature) {
		last = status
	}
	if last.Done() {
		return last, nil
	}
	return last, ErrNotConfirmed
}
