package modflash

import (
	"log/slog"
	"time"
)

// Default timing constants, pinned by the original implementation
// (original_source/src/main.rs) rather than chosen fresh: reset pulse
// width, erase-completion wait, terminal-probe settle, and the
// consecutive-error cap before an upload is declared corrupted.
const (
	DefaultResetPulse           = 200 * time.Millisecond
	DefaultEraseTimeout         = 3500 * time.Millisecond
	DefaultInterruptPerLineWait = time.Millisecond
	DefaultMaxConsecutiveErrors = 10
	defaultTerminalProbeSettle  = 5 * time.Millisecond
)

// Config bundles the tunables of a ModuleSession. Build one with
// NewConfig and a set of Options, mirroring the functional-options
// pattern documented for the bootloader package in
// other_examples/moffa90-go-cyacd (WithProgressCallback, WithLogger,
// WithTimeout, WithChunkSize, WithRetries) -- see DESIGN.md.
type Config struct {
	ResetPulse           time.Duration
	EraseTimeout         time.Duration
	InterruptPerLineWait time.Duration
	TerminalProbeSettle  time.Duration
	MaxConsecutiveErrors int

	Logger   *slog.Logger
	Progress ProgressFunc
}

// Option configures a Config.
type Option func(*Config)

// NewConfig builds a Config from defaults plus the given options.
func NewConfig(opts ...Option) Config {
	cfg := Config{
		ResetPulse:           DefaultResetPulse,
		EraseTimeout:         DefaultEraseTimeout,
		InterruptPerLineWait: DefaultInterruptPerLineWait,
		TerminalProbeSettle:  defaultTerminalProbeSettle,
		MaxConsecutiveErrors: DefaultMaxConsecutiveErrors,
		Logger:               slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithResetPulse overrides the reset assert/deassert settle duration.
func WithResetPulse(d time.Duration) Option {
	return func(c *Config) { c.ResetPulse = d }
}

// WithEraseTimeout overrides how long Erase waits for the completion
// interrupt before giving up (the wait is best-effort; spec.md §4.4).
func WithEraseTimeout(d time.Duration) Option {
	return func(c *Config) { c.EraseTimeout = d }
}

// WithTerminalSettle overrides the post-terminal-frame probe settle
// duration (spec.md §9: an empirically-derived module turnaround time).
func WithTerminalSettle(d time.Duration) Option {
	return func(c *Config) { c.TerminalProbeSettle = d }
}

// WithMaxConsecutiveErrors overrides the upload engine's error cap.
func WithMaxConsecutiveErrors(n int) Option {
	return func(c *Config) { c.MaxConsecutiveErrors = n }
}

// WithLogger overrides the structured logger used for protocol
// diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithProgressFunc installs a callback invoked as the upload engine makes
// progress through a firmware image.
func WithProgressFunc(fn ProgressFunc) Option {
	return func(c *Config) { c.Progress = fn }
}

// UploadPhase names a stage of the upload engine, reported via
// ProgressEvent.
type UploadPhase int

const (
	PhaseErasing UploadPhase = iota
	PhaseUploading
	PhaseFinalizing
)

func (p UploadPhase) String() string {
	switch p {
	case PhaseErasing:
		return "erasing"
	case PhaseUploading:
		return "uploading"
	case PhaseFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// ProgressEvent reports upload progress without coupling the engine to
// any particular progress-bar or UI library.
type ProgressEvent struct {
	Slot       int
	Phase      UploadPhase
	Line       int
	TotalLines int
}

// ProgressFunc receives ProgressEvents. It must return promptly; the
// upload engine does not buffer or drop events on its behalf.
type ProgressFunc func(ProgressEvent)

func (c Config) report(ev ProgressEvent) {
	if c.Progress != nil {
		c.Progress(ev)
	}
}
