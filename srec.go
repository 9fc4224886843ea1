package modflash

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// srecLine is one parsed S-Record line (spec.md §6): the type nibble and
// the hex-decoded payload the bootloader wants verbatim on the wire (bytes
// 2..2+2*N inclusive of the trailing checksum pair). The declared length
// is not kept as a separate field; it is the first byte of payload.
type srecLine struct {
	recordType byte
	payload    []byte
}

// isTerminal reports whether this line is the type-7 record that causes
// the module to branch into the freshly written image.
func (l srecLine) isTerminal() bool {
	return l.recordType == 7
}

// parseSRecLines splits raw into LF-delimited S-Record lines and parses
// each one, following the same "validate structure, then decode payload"
// shape as yunpub-munifying/unifying/firmware_parser.go. It returns an
// error on the first structurally invalid line; content semantics beyond
// framing are not validated (spec.md §1 Non-goals).
func parseSRecLines(raw []byte) ([]srecLine, error) {
	text := strings.TrimRight(string(raw), "\n")
	if text == "" {
		return nil, nil
	}

	rawLines := strings.Split(text, "\n")
	lines := make([]srecLine, 0, len(rawLines))
	for i, rl := range rawLines {
		rl = strings.TrimRight(rl, "\r")
		line, err := parseSRecLine(rl)
		if err != nil {
			return nil, fmt.Errorf("modflash: srec line %d: %w", i, err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func parseSRecLine(s string) (srecLine, error) {
	if len(s) < 4 || s[0] != 'S' {
		return srecLine{}, fmt.Errorf("line %q: missing S-Record header", s)
	}

	recordType, err := strconv.ParseUint(s[1:2], 16, 8)
	if err != nil {
		return srecLine{}, fmt.Errorf("line %q: bad type nibble: %w", s, err)
	}

	length, err := strconv.ParseUint(s[2:4], 16, 8)
	if err != nil {
		return srecLine{}, fmt.Errorf("line %q: bad length byte: %w", s, err)
	}

	end := 4 + int(length)*2
	if end > len(s) {
		return srecLine{}, fmt.Errorf("line %q: declared length %d exceeds line", s, length)
	}

	payload, err := hex.DecodeString(s[2:end])
	if err != nil {
		return srecLine{}, fmt.Errorf("line %q: bad hex payload: %w", s, err)
	}

	return srecLine{recordType: byte(recordType), payload: payload}, nil
}
