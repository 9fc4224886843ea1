package modflash

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrNoModule is returned by OpenSession when the slot does not answer
// the identify probe as a bootloader would. This is a negative answer,
// not a transport failure -- spec.md §4.3/§7: "Info-query failures are
// not errors -- they are negative answers meaning 'no module here.'"
var ErrNoModule = errors.New("modflash: no module present in this slot")

// dummyMessage clears any in-flight state on the peer before a reset
// pulse (spec.md §4.3 step 1, §4.4 step 1).
var dummyMessage = make([]byte, 5)

// Session owns one module slot's exclusive SPI channel and interrupt
// source (spec.md §3 "Module Session"). At most one Session exists per
// slot; identity fields are valid only after a successful OpenSession.
type Session struct {
	Slot      int
	transport Transport
	cfg       Config

	Firmware     FirmwareVersion
	Manufacturer uint32
	QRFront      uint32
	QRBack       uint32
}

// OpenSession performs the info query (spec.md §4.3): clear in-flight
// state, pulse reset to force entry into the bootloader, identify, and
// cache the reported firmware/manufacturing fields. It returns
// (nil, ErrNoModule) -- not a wrapped error -- when no module answers,
// since that is a negative result rather than a failure (spec.md §7).
func OpenSession(ctx context.Context, slot int, transport Transport, opts ...Option) (*Session, error) {
	cfg := NewConfig(opts...)
	s := &Session{Slot: slot, transport: transport, cfg: cfg}

	if err := s.resetIntoBootloader(ctx); err != nil {
		return nil, err
	}

	reply := buildFrame(cmdIdentify)
	tx := buildFrame(cmdIdentify)
	if err := s.transport.Exchange(ctx, tx, reply); err != nil {
		cfg.Logger.Debug("identify exchange failed", "slot", slot, "err", err)
		return nil, ErrNoModule
	}

	if !validateIdentifyReply(reply) {
		cfg.Logger.Debug("identify reply invalid", "slot", slot)
		return nil, ErrNoModule
	}

	copy(s.Firmware.Hardware[:], reply[6:10])
	copy(s.Firmware.Software[:], reply[10:13])
	s.Manufacturer = binary.BigEndian.Uint32(reply[13:17])
	s.QRFront = binary.BigEndian.Uint32(reply[17:21])
	s.QRBack = binary.BigEndian.Uint32(reply[21:25])

	cfg.Logger.Debug("session opened", "slot", slot, "firmware", s.Firmware, "manufacturer", s.Manufacturer)
	return s, nil
}

// resetIntoBootloader performs the dummy write and the 200/200 ms reset
// pulse shared by OpenSession and Erase (spec.md §4.3 steps 1-2, §4.4
// step 1; original_source/src/main.rs get_module_info/wipe_module_error).
func (s *Session) resetIntoBootloader(ctx context.Context) error {
	if err := s.transport.Write(ctx, dummyMessage); err != nil {
		return fmt.Errorf("modflash: slot %d: dummy write: %w", s.Slot, err)
	}

	if err := s.transport.ResetLine(true); err != nil {
		return fmt.Errorf("modflash: slot %d: assert reset: %w", s.Slot, err)
	}
	if err := sleepCtx(ctx, s.cfg.ResetPulse); err != nil {
		return err
	}

	if err := s.transport.ResetLine(false); err != nil {
		return fmt.Errorf("modflash: slot %d: deassert reset: %w", s.Slot, err)
	}
	return sleepCtx(ctx, s.cfg.ResetPulse)
}

// Erase issues the memory-wipe command (cmd 29) committing newSoftware as
// the module's new software version, or the blank sentinel for a
// wipe-only erase (spec.md §4.4). The completion interrupt wait is
// best-effort: a timeout is tolerated because the upload loop will
// detect continued bootloader presence via its own probes.
func (s *Session) Erase(ctx context.Context, newSoftware [3]byte) error {
	if err := s.resetIntoBootloader(ctx); err != nil {
		return err
	}

	if err := s.transport.DrainInterrupts(ctx); err != nil {
		return fmt.Errorf("modflash: slot %d: drain interrupts before erase: %w", s.Slot, err)
	}

	frame := buildFrame(cmdErase)
	frame[6], frame[7], frame[8] = newSoftware[0], newSoftware[1], newSoftware[2]
	finalizeChecksum(frame)

	if err := s.transport.Write(ctx, frame); err != nil {
		return fmt.Errorf("modflash: slot %d: erase write: %w", s.Slot, err)
	}

	err := s.transport.AwaitInterrupt(ctx, s.cfg.EraseTimeout)
	if errors.Is(err, ErrInterruptTimeout) {
		s.cfg.Logger.Debug("erase completion interrupt timed out, tolerated", "slot", s.Slot)
		return nil
	}
	return err
}

// WipeForRecovery puts the module into a defined erased state after an
// upload reported FirmwareCorruptedError, supplementing the distilled
// spec with the original's wipe_module_error recovery path
// (original_source/src/main.rs) -- see SPEC_FULL.md.
func (s *Session) WipeForRecovery(ctx context.Context) error {
	return s.Erase(ctx, eraseSentinel)
}

// Cancel sends the cancel/return-to-application command (cmd 19),
// returning the module to its application or idle state (spec.md §4.5
// "Termination and cleanup").
func (s *Session) Cancel(ctx context.Context) error {
	frame := buildFrame(cmdCancel)
	finalizeChecksum(frame)
	return s.transport.Write(ctx, frame)
}

// Close releases the underlying transport.
func (s *Session) Close() error {
	return s.transport.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
