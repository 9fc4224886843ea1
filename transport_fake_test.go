package modflash

import (
	"context"
	"encoding/binary"
	"sync"
	"time"
)

var _ Transport = (*fakeTransport)(nil)

// fakeTransport is the injectable Transport double used across this
// package's tests, modeled on the teacher's testTransport (smp_image_test.go):
// plain function fields so each test can override just the behavior it
// needs. Its defaults are no-ops; tests that need a stateful peer wire a
// bootloaderSim into Write/Exchange with bootloaderSim.attach.
type fakeTransport struct {
	mu sync.Mutex

	writeFn          func(ctx context.Context, tx []byte) error
	exchangeFn       func(ctx context.Context, tx, rx []byte) error
	awaitInterruptFn func(ctx context.Context, timeout time.Duration) error
	drainFn          func(ctx context.Context) error
	resetLineFn      func(assert bool) error
	closeFn          func() error

	resetPulses []bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		writeFn: func(ctx context.Context, tx []byte) error { return nil },
		exchangeFn: func(ctx context.Context, tx, rx []byte) error {
			return nil
		},
		awaitInterruptFn: func(ctx context.Context, timeout time.Duration) error { return nil },
		drainFn:          func(ctx context.Context) error { return nil },
		resetLineFn:      func(assert bool) error { return nil },
		closeFn:          func() error { return nil },
	}
}

func (f *fakeTransport) Write(ctx context.Context, tx []byte) error {
	return f.writeFn(ctx, tx)
}

func (f *fakeTransport) Exchange(ctx context.Context, tx, rx []byte) error {
	return f.exchangeFn(ctx, tx, rx)
}

func (f *fakeTransport) AwaitInterrupt(ctx context.Context, timeout time.Duration) error {
	return f.awaitInterruptFn(ctx, timeout)
}

func (f *fakeTransport) DrainInterrupts(ctx context.Context) error {
	return f.drainFn(ctx)
}

func (f *fakeTransport) ResetLine(assert bool) error {
	f.mu.Lock()
	f.resetPulses = append(f.resetPulses, assert)
	f.mu.Unlock()
	return f.resetLineFn(assert)
}

func (f *fakeTransport) Close() error {
	return f.closeFn()
}

// bootloaderSim is a minimal stand-in for the module-side bootloader:
// enough of the identify/erase/pipelined-ack protocol to drive the
// upload engine's state machine through its retry and terminal-frame
// paths in tests.
type bootloaderSim struct {
	mu sync.Mutex

	hardware     [4]byte
	software     [3]byte
	manufacturer uint32
	qrFront      uint32
	qrBack       uint32

	ackLine           int
	ackValid          bool
	terminalConfirmed bool
	// escapeDelay counts down the number of post-terminal confirmation
	// probes that report "not yet" before the module actually confirms
	// the terminal frame (spec.md §8 scenario S5).
	escapeDelay int

	// rejectLine[n] counts down: while > 0, a firmware-line frame for
	// line n is silently not acknowledged (simulating a dropped/garbled
	// frame), decrementing each attempt.
	rejectLine map[int]int
	// rejectAll, when set, never acknowledges any firmware-line frame --
	// used to drive the upload engine past its consecutive-error cap.
	rejectAll bool

	eraseCount int
	cancels    int
}

func newBootloaderSim() *bootloaderSim {
	return &bootloaderSim{
		hardware:   [4]byte{1, 10, 2, 0},
		software:   [3]byte{1, 0, 0},
		ackLine:    -1,
		rejectLine: map[int]int{},
	}
}

func (b *bootloaderSim) exchange(tx, rx []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tx[0] == cmdIdentify {
		b.fillIdentifyReply(rx)
		return nil
	}

	// A 61-byte probe is the post-terminal-frame confirmation check,
	// answered from whether the module has confirmed the terminal frame;
	// anything else is answered with the status of the PREVIOUS transfer,
	// mirroring the full-duplex pipeline delay the dual-index tracking
	// in upload.go is built around (spec.md §4.5).
	if len(tx) == lengthCheckFrame {
		b.fillEscapeReply(rx)
		return nil
	}
	b.fillStatusReply(rx)

	if tx[0] == cmdFirmwareLine {
		lineIdx := int(binary.BigEndian.Uint16(tx[6:8]))
		msgType := tx[8]
		if b.rejectAll || b.rejectLine[lineIdx] > 0 {
			if !b.rejectAll {
				b.rejectLine[lineIdx]--
			}
			return nil
		}
		b.ackLine, b.ackValid = lineIdx, true
		if msgType == 7 {
			b.terminalConfirmed = true
		}
	}
	// cmdStatusProbe: no state change, the reply already reflects current
	// status. cmdErase/cmdCancel arrive via Transport.Write, not Exchange,
	// and are handled by write() below.
	return nil
}

func (b *bootloaderSim) fillIdentifyReply(rx []byte) {
	for i := range rx {
		rx[i] = 0
	}
	rx[0], rx[2] = cmdIdentify, cmdIdentify
	copy(rx[6:10], b.hardware[:])
	copy(rx[10:13], b.software[:])
	binary.BigEndian.PutUint32(rx[13:17], b.manufacturer)
	binary.BigEndian.PutUint32(rx[17:21], b.qrFront)
	binary.BigEndian.PutUint32(rx[21:25], b.qrBack)
	finalizeChecksum(rx[:frameLength])
}

func (b *bootloaderSim) fillStatusReply(rx []byte) {
	for i := range rx {
		rx[i] = 0
	}
	rx[0], rx[2] = cmdStatusProbe, cmdStatusProbe
	if b.ackValid {
		binary.BigEndian.PutUint16(rx[6:8], uint16(b.ackLine))
		rx[8] = 1
	}
	finalizeChecksum(rx[:frameLength])
}

// fillEscapeReply answers the post-terminal-frame confirmation probe:
// byte 6 carries bootloaderActive once the module has confirmed the
// terminal frame and is ready for the engine to exit its loop.
func (b *bootloaderSim) fillEscapeReply(rx []byte) {
	for i := range rx {
		rx[i] = 0
	}
	rx[0], rx[2] = cmdStatusProbe, cmdStatusProbe
	if b.terminalConfirmed {
		if b.escapeDelay > 0 {
			b.escapeDelay--
		} else {
			rx[6] = bootloaderActive
		}
	}
	finalizeChecksum(rx[:frameLength])
}

// write handles the fire-and-forget commands sent via Transport.Write
// (the dummy clear-state message, erase, and cancel) -- these do not
// carry a meaningful reply, but still mutate simulator state.
func (b *bootloaderSim) write(tx []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(tx) < 1 {
		return
	}
	switch tx[0] {
	case cmdErase:
		b.eraseCount++
		b.ackLine, b.ackValid, b.terminalConfirmed = -1, false, false
	case cmdCancel:
		b.cancels++
	}
}

// attach wires a fakeTransport's Write/Exchange to this simulator,
// leaving the other Transport methods at their newFakeTransport defaults.
func (b *bootloaderSim) attach(ft *fakeTransport) {
	ft.writeFn = func(ctx context.Context, tx []byte) error {
		b.write(tx)
		return nil
	}
	ft.exchangeFn = func(ctx context.Context, tx, rx []byte) error {
		return b.exchange(tx, rx)
	}
}
