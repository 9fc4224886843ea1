package modflash

import "fmt"

// FirmwareUntouchedError reports that an upload failed before the erase
// command was ever issued. The module's prior firmware is unaffected and
// a caller may retry the same operation safely.
type FirmwareUntouchedError struct {
	Slot int
	Err  error
}

func (e *FirmwareUntouchedError) Error() string {
	return fmt.Sprintf("slot %d: firmware untouched: %s", e.Slot, e.Err)
}

func (e *FirmwareUntouchedError) Unwrap() error {
	return e.Err
}

func untouched(slot int, err error) error {
	return &FirmwareUntouchedError{Slot: slot, Err: err}
}

// FirmwareCorruptedError reports that an erase was issued and the upload
// did not reach a confirmed terminal frame. The module's flash contents
// are undefined; the caller must run a bare wipe before the module can be
// trusted again.
type FirmwareCorruptedError struct {
	Slot int
	Err  error
}

func (e *FirmwareCorruptedError) Error() string {
	return fmt.Sprintf("slot %d: firmware corrupted: %s", e.Slot, e.Err)
}

func (e *FirmwareCorruptedError) Unwrap() error {
	return e.Err
}

func corrupted(slot int, err error) error {
	return &FirmwareCorruptedError{Slot: slot, Err: err}
}
