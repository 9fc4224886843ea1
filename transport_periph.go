package modflash

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// SPIClockMax is the highest clock speed the bootloader protocol
// tolerates (spec.md §3, §6).
const SPIClockMax = 2 * physic.MegaHertz

// PeriphTransport is the production Transport, backed by an exclusive
// periph.io SPI port, a dedicated falling-edge GPIO interrupt pin, and a
// reset output pin -- the Go-ecosystem equivalent of the original Rust
// implementation's spidev + gpio_cdev pairing (original_source/src/main.rs),
// see DESIGN.md.
type PeriphTransport struct {
	port  spi.PortCloser
	conn  spi.Conn
	irq   gpio.PinIO
	reset gpio.PinIO
}

// InitHost registers periph.io's platform drivers. Call once per process
// before opening any PeriphTransport.
func InitHost() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("modflash: init periph host: %w", err)
	}
	return nil
}

// OpenPeriphTransport opens the SPI port named spiName and the GPIO pins
// named irqName (falling-edge interrupt) and resetName (reset output),
// configuring the SPI connection per spec.md §3/§6 (8 bits/word, mode 0,
// ≤2 MHz).
func OpenPeriphTransport(spiName, irqName, resetName string) (*PeriphTransport, error) {
	port, err := spireg.Open(spiName)
	if err != nil {
		return nil, fmt.Errorf("modflash: open spi %s: %w", spiName, err)
	}

	conn, err := port.Connect(SPIClockMax, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("modflash: configure spi %s: %w", spiName, err)
	}

	irq := gpioreg.ByName(irqName)
	if irq == nil {
		port.Close()
		return nil, fmt.Errorf("modflash: gpio pin %s not found", irqName)
	}
	if err := irq.In(gpio.PullNoChange, gpio.FallingEdge); err != nil {
		port.Close()
		return nil, fmt.Errorf("modflash: configure irq pin %s: %w", irqName, err)
	}

	reset := gpioreg.ByName(resetName)
	if reset == nil {
		port.Close()
		return nil, fmt.Errorf("modflash: gpio pin %s not found", resetName)
	}
	if err := reset.Out(gpio.Low); err != nil {
		port.Close()
		return nil, fmt.Errorf("modflash: configure reset pin %s: %w", resetName, err)
	}

	return &PeriphTransport{port: port, conn: conn, irq: irq, reset: reset}, nil
}

var _ Transport = (*PeriphTransport)(nil)

func (t *PeriphTransport) Write(ctx context.Context, tx []byte) error {
	scratch := make([]byte, len(tx))
	return t.Exchange(ctx, tx, scratch)
}

func (t *PeriphTransport) Exchange(ctx context.Context, tx, rx []byte) error {
	if len(tx) != len(rx) {
		return fmt.Errorf("modflash: exchange length mismatch: tx=%d rx=%d", len(tx), len(rx))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.conn.Tx(tx, rx)
}

func (t *PeriphTransport) AwaitInterrupt(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.irq.WaitForEdge(timeout) {
		return nil
	}
	return ErrInterruptTimeout
}

func (t *PeriphTransport) DrainInterrupts(ctx context.Context) error {
	return drainInterrupts(ctx, t.AwaitInterrupt)
}

func (t *PeriphTransport) ResetLine(assert bool) error {
	level := gpio.Low
	if assert {
		level = gpio.High
	}
	return t.reset.Out(level)
}

func (t *PeriphTransport) Close() error {
	return t.port.Close()
}
