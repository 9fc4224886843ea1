package modflash

import (
	"fmt"
	"strconv"
	"strings"
)

// FirmwareVersion is the fixed 7-byte tuple (h0,h1,h2,h3, s0,s1,s2):
// bytes 0-3 are the hardware descriptor, bytes 4-6 the software version
// (spec.md §3).
type FirmwareVersion struct {
	Hardware [4]byte
	Software [3]byte
}

// eraseSentinelVersion is the "blank / erased" software sentinel.
var eraseSentinelVersion = eraseSentinel

// IsBlank reports whether v's software version is the erased sentinel
// (255,255,255).
func (v FirmwareVersion) IsBlank() bool {
	return v.Software == eraseSentinelVersion
}

// String renders the textual form "h0-h1-h2-h3-s0-s1-s2".
func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d-%d-%d-%d-%d-%d-%d",
		v.Hardware[0], v.Hardware[1], v.Hardware[2], v.Hardware[3],
		v.Software[0], v.Software[1], v.Software[2])
}

// Filename renders the filename form "h0-h1-h2-h3-s0-s1-s2.srec".
func (v FirmwareVersion) Filename() string {
	return v.String() + ".srec"
}

// ParseFirmwareVersion parses either the textual or filename form of a
// FirmwareVersion (the ".srec" suffix, if present, is ignored), matching
// original_source/src/main.rs FirmwareVersion::from_filename.
func ParseFirmwareVersion(s string) (FirmwareVersion, error) {
	name, _, _ := strings.Cut(s, ".")

	parts := strings.Split(name, "-")
	if len(parts) != 7 {
		return FirmwareVersion{}, fmt.Errorf("modflash: %q: expected 7 dash-separated fields, got %d", s, len(parts))
	}

	var fields [7]byte
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return FirmwareVersion{}, fmt.Errorf("modflash: %q: field %d: %w", s, i, err)
		}
		fields[i] = byte(n)
	}

	return FirmwareVersion{
		Hardware: [4]byte{fields[0], fields[1], fields[2], fields[3]},
		Software: [3]byte{fields[4], fields[5], fields[6]},
	}, nil
}

// compatible reports whether c and v share the same hardware descriptor
// -- the prerequisite for any upgrade comparison (spec.md §3).
func (v FirmwareVersion) compatible(c FirmwareVersion) bool {
	return v.Hardware == c.Hardware
}

// upgrades reports whether c is a valid upgrade target over v: same
// hardware, c's software is not the blank sentinel, and c's software
// either lexicographically exceeds v's or v is itself blank (spec.md §3).
func (c FirmwareVersion) upgrades(v FirmwareVersion) bool {
	if !c.compatible(v) {
		return false
	}
	if c.IsBlank() {
		return false
	}
	if v.IsBlank() {
		return true
	}
	return softwareGreater(c.Software, v.Software)
}

// softwareGreater compares two software-version triples lexicographically.
func softwareGreater(a, b [3]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

// HardwareDescription returns a human-readable classification of v's
// hardware descriptor, supplementing the distilled spec with the
// original's Display-for-Module classification table
// (original_source/src/main.rs), restricted to pure data -- no I/O.
func (v FirmwareVersion) HardwareDescription() string {
	family, variant := v.Hardware[1], v.Hardware[2]
	switch family {
	case 10:
		switch variant {
		case 1:
			return "6 Channel Input module"
		case 2:
			return "10 Channel Input module"
		case 3:
			return "4-20mA Input module"
		}
	case 20:
		switch variant {
		case 1:
			return "2 Channel Output module"
		case 2:
			return "6 Channel Output module"
		case 3:
			return "10 Channel Output module"
		}
	case 30:
		if variant == 3 {
			return "ANLEG IR module"
		}
	case 40:
		if variant == 1 {
			return "ANLEG RTC Control module"
		}
	}
	return "unknown module: " + v.String()
}
