package modflash

import (
	"context"
	"errors"
	"time"
)

// ErrInterruptTimeout is returned by AwaitInterrupt when no falling edge
// arrives before the deadline. Callers almost always treat this as
// tolerable rather than fatal -- see spec.md §4.2 and §9.
var ErrInterruptTimeout = errors.New("modflash: interrupt wait timed out")

// Transport is the full-duplex link to a single module slot: one SPI
// channel plus one dedicated falling-edge interrupt line. A Transport is
// not reentrant -- the session holding it guarantees strictly sequential
// use (spec.md §5).
type Transport interface {
	// Write pushes tx and discards whatever comes back on the line.
	Write(ctx context.Context, tx []byte) error

	// Exchange performs a full-duplex transfer. len(tx) must equal
	// len(rx); rx is filled with the bytes clocked in while tx was
	// clocked out.
	Exchange(ctx context.Context, tx, rx []byte) error

	// AwaitInterrupt blocks until the falling-edge interrupt line fires
	// or timeout elapses, returning ErrInterruptTimeout in the latter
	// case.
	AwaitInterrupt(ctx context.Context, timeout time.Duration) error

	// DrainInterrupts consumes any interrupt edges already queued by the
	// kernel, so a later AwaitInterrupt cannot be satisfied by a stale
	// edge from an earlier operation (spec.md §4.2, §9).
	DrainInterrupts(ctx context.Context) error

	// ResetLine actuates (or releases) the module's reset signal.
	ResetLine(assert bool) error

	// Close releases the SPI channel and interrupt line.
	Close() error
}

// drainPollInterval is the per-iteration timeout used while draining the
// interrupt queue (spec.md §4.2: "1 ms poll loop until none remain").
const drainPollInterval = time.Millisecond

// drainInterrupts is the transport-agnostic drain loop: repeatedly wait
// with a short timeout until a wait times out, meaning the queue is
// empty. It is a package-level helper so a Transport implementation
// (PeriphTransport uses it) can share the same discipline instead of
// reimplementing the loop.
func drainInterrupts(ctx context.Context, waitEdge func(context.Context, time.Duration) error) error {
	for {
		err := waitEdge(ctx, drainPollInterval)
		if errors.Is(err, ErrInterruptTimeout) {
			return nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
