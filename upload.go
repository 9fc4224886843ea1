package modflash

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
)

// noLineChecked is the "first iteration, ignore the reply body" sentinel
// for lineCheck (spec.md §4.5 "First-frame special case"; the MAX
// sentinel of original_source/src/main.rs, represented here as -1 since
// line indices are non-negative).
const noLineChecked = -1

// maxLinePayload is the largest srec payload a 46-byte frame can carry:
// bytes 9..44 inclusive (36 bytes), after the 3 header bytes (line index
// hi/lo, message type) placed at bytes 6..8.
const maxLinePayload = 36

// Upload streams srecData to the module at target's software version:
// erase, then pipelined line-by-line transfer with dual-index tracking
// and retry (spec.md §4.5), finally a cancel to return the module to
// application or idle state.
//
// Any failure before the erase is issued returns *FirmwareUntouchedError
// -- the module's prior firmware is unaffected. Any failure after erase
// returns *FirmwareCorruptedError -- the caller must call
// Session.WipeForRecovery to leave the module in a defined state.
func (s *Session) Upload(ctx context.Context, target FirmwareVersion, srecData []byte) error {
	lines, err := parseSRecLines(srecData)
	if err != nil {
		return untouched(s.Slot, err)
	}
	if len(lines) <= 1 {
		return untouched(s.Slot, fmt.Errorf("firmware image has %d lines, need more than 1", len(lines)))
	}
	for i, l := range lines {
		if len(l.payload) > maxLinePayload {
			return untouched(s.Slot, fmt.Errorf("line %d payload of %d bytes exceeds frame capacity", i, len(l.payload)))
		}
	}

	s.cfg.report(ProgressEvent{Slot: s.Slot, Phase: PhaseErasing, TotalLines: len(lines)})
	if err := s.Erase(ctx, target.Software); err != nil {
		return corrupted(s.Slot, fmt.Errorf("erase: %w", err))
	}

	// Everything from here on runs against a module with erased flash:
	// any abort must be reported as corrupted, never untouched.
	if err := s.uploadLines(ctx, lines); err != nil {
		return corrupted(s.Slot, err)
	}

	if err := s.Cancel(ctx); err != nil {
		return corrupted(s.Slot, fmt.Errorf("cancel after upload: %w", err))
	}

	s.Firmware = target
	s.cfg.report(ProgressEvent{Slot: s.Slot, Phase: PhaseFinalizing, Line: len(lines), TotalLines: len(lines)})
	return nil
}

// uploader holds the dual-index state machine's mutable state across
// iterations, kept as its own type so the swap/advance logic in
// spec.md §4.5 and §9 can be unit-tested independent of any transport.
type uploader struct {
	lineNumber int
	lineCheck  int
	errCount   int
	msgType    byte
}

func (s *Session) uploadLines(ctx context.Context, lines []srecLine) error {
	u := &uploader{lineNumber: 0, lineCheck: noLineChecked, msgType: 0}

	for u.msgType != 7 {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := lines[u.lineNumber]
		u.msgType = line.recordType

		if u.msgType == 7 && u.lineCheck != u.lineNumber {
			accepted, err := s.probePredecessor(ctx, u.lineCheck)
			if err != nil || !accepted {
				if retryErr := s.onUnacceptable(u); retryErr != nil {
					return retryErr
				}
				continue
			}
			// Predecessor confirmed; fall through and send the terminal
			// line itself below, same as any other line.
		}

		frame := s.buildLineFrame(u.lineNumber, u.msgType, line.payload)
		reply := make([]byte, frameLength)
		exchangeErr := s.transport.Exchange(ctx, frame, reply)

		s.cfg.report(ProgressEvent{Slot: s.Slot, Phase: PhaseUploading, Line: u.lineNumber, TotalLines: len(lines)})

		switch {
		case exchangeErr != nil:
			if err := s.onUnacceptable(u); err != nil {
				return err
			}

		case u.lineCheck == noLineChecked:
			// First frame: the reply is junk (about whatever state the
			// bootloader was in before we got here). Unconditionally
			// advance (spec.md §4.5 "First-frame special case").
			u.lineNumber++
			u.lineCheck = 0
			s.awaitLineInterrupt(ctx)

		default:
			if !s.acceptableReply(reply, u.lineCheck) {
				if err := s.onUnacceptable(u); err != nil {
					return err
				}
				s.awaitLineInterrupt(ctx)
				continue
			}

			if u.errCount%2 == 1 {
				u.lineNumber, u.lineCheck = u.lineCheck, u.lineNumber
			} else {
				u.lineCheck = u.lineNumber
			}

			if u.msgType == 7 {
				ok, err := s.terminalEscapeProbe(ctx)
				if err != nil || !ok {
					// Re-attempt the terminal frame (spec.md §4.5
					// "Terminal-frame handling"): this is the one place
					// the spec's explicit text diverges from
					// original_source/src/main.rs (which neither swaps
					// nor increments here) -- spec.md is unambiguous, so
					// it wins.
					u.msgType = 0
					if err := s.onUnacceptable(u); err != nil {
						return err
					}
				}
				// else: success, loop condition (msgType == 7) exits.
			} else {
				u.lineNumber++
				u.errCount = 0
			}

			s.awaitLineInterrupt(ctx)
		}
	}

	return nil
}

// onUnacceptable applies the shared error-recovery transition: swap the
// two indices, force message type non-terminal to keep the loop alive,
// and bump the error counter, returning a non-nil error once the cap is
// exceeded (spec.md §4.5 "Error handling with index swapping").
func (s *Session) onUnacceptable(u *uploader) error {
	u.errCount++
	u.lineNumber, u.lineCheck = u.lineCheck, u.lineNumber
	u.msgType = 0

	if u.errCount > s.cfg.MaxConsecutiveErrors {
		return fmt.Errorf("exceeded %d consecutive errors at line %d", s.cfg.MaxConsecutiveErrors, u.lineNumber)
	}
	return nil
}

// acceptableReply implements spec.md §4.5's acceptance rule: local
// checksum valid, reply[6:8] big-endian equals lineCheck, reply[8] == 1.
func (s *Session) acceptableReply(reply []byte, lineCheck int) bool {
	if !validateFrame(reply) {
		return false
	}
	if int(binary.BigEndian.Uint16(reply[6:8])) != lineCheck {
		return false
	}
	return reply[8] == 1
}

// buildLineFrame assembles a cmd-39 firmware-line frame: big-endian line
// index at bytes 6-7, message type at byte 8, the srec payload from byte
// 9 onward.
func (s *Session) buildLineFrame(lineNumber int, msgType byte, payload []byte) []byte {
	f := buildFrame(cmdFirmwareLine)
	binary.BigEndian.PutUint16(f[6:8], uint16(lineNumber))
	f[8] = msgType
	copy(f[9:], payload)
	finalizeChecksum(f)
	return f
}

// probePredecessor sends a cmd-49 status probe in place of a firmware
// line, used when the engine is about to transmit the un-retriable
// terminal frame but the predecessor line's ack is still outstanding
// (spec.md §4.5 "Terminal-frame handling").
func (s *Session) probePredecessor(ctx context.Context, lineCheck int) (bool, error) {
	frame := buildFrame(cmdStatusProbe)
	finalizeChecksum(frame)
	reply := make([]byte, frameLength)

	if err := s.transport.Exchange(ctx, frame, reply); err != nil {
		return false, err
	}
	s.awaitLineInterrupt(ctx)
	return s.acceptableReply(reply, lineCheck), nil
}

// terminalEscapeProbe is sent after the type-7 frame itself has been
// accepted. A bootloader reply (byte 6 == bootloaderActive) confirms the
// terminal frame landed and the engine can exit the loop; any other
// outcome means the confirmation did not come through and the terminal
// frame must be re-attempted.
func (s *Session) terminalEscapeProbe(ctx context.Context) (bool, error) {
	if err := sleepCtx(ctx, s.cfg.TerminalProbeSettle); err != nil {
		return false, err
	}

	tx := make([]byte, lengthCheckFrame)
	tx[0], tx[1], tx[2] = cmdStatusProbe, frameLength-1, cmdStatusProbe
	finalizeChecksum(tx[:frameLength])

	rx := make([]byte, lengthCheckFrame)
	if err := s.transport.Exchange(ctx, tx, rx); err != nil {
		// No confirmation came through; the caller re-attempts the
		// terminal frame rather than treating this as a hard failure.
		return false, nil
	}

	if validateFrame(rx[:frameLength]) && rx[6] == bootloaderActive {
		return true, nil
	}
	return false, nil
}

// awaitLineInterrupt waits for the module's per-line completion
// interrupt. A timeout here is non-fatal (spec.md §5 "All timeouts are
// non-fatal unless they cause the retry cap to be exceeded") -- it is
// simply how "the module didn't signal in time" surfaces, and the next
// loop iteration's reply-acceptance check is what actually detects
// trouble.
func (s *Session) awaitLineInterrupt(ctx context.Context) {
	err := s.transport.AwaitInterrupt(ctx, s.cfg.InterruptPerLineWait)
	if err != nil && !errors.Is(err, ErrInterruptTimeout) {
		s.cfg.Logger.Debug("interrupt wait error", "slot", s.Slot, "err", err)
	}
}
