package modflash

// Boot frame command ids, as sent in bytes 0 and 2 of every frame.
const (
	cmdIdentify      = 9
	cmdCancel        = 19
	cmdErase         = 29
	cmdFirmwareLine  = 39
	cmdStatusProbe   = 49
	bootloaderActive = 20 // reply byte 6 value meaning "bootloader still present"
)

// frameLength is the fixed size of every boot frame on the wire.
const frameLength = 46

// lengthCheckFrame is the reply size expected for the post-terminal
// "is this still the bootloader?" probe (BOOTMESSAGE_LENGTH_CHECK).
const lengthCheckFrame = 61

// eraseSentinel marks "blank / erased" software version and "wipe only,
// do not commit a version" in an erase command's payload.
var eraseSentinel = [3]byte{255, 255, 255}

// buildFrame constructs a 46-byte boot frame for cmd with only the header
// filled in (cmd at bytes 0 and 2, length-1 at byte 1). Callers write any
// payload into bytes 3..44 of the returned buffer and then call
// finalizeChecksum; buildFrame itself leaves the checksum byte zero.
func buildFrame(cmd byte) []byte {
	f := make([]byte, frameLength)
	f[0] = cmd
	f[1] = frameLength - 1
	f[2] = cmd
	return f
}

// finalizeChecksum writes the trailing 8-bit wrapping-sum checksum over
// f[0:len(f)-1] into the frame's last byte.
func finalizeChecksum(f []byte) {
	f[len(f)-1] = checksum(f, len(f)-1)
}

// checksum computes the 8-bit wrapping sum of message[0:length].
func checksum(message []byte, length int) byte {
	var sum byte
	for _, b := range message[:length] {
		sum += b // byte addition wraps mod 256, matching the original wrapping_add
	}
	return sum
}

// validateFrame reports whether f's trailing checksum byte matches the
// wrapping sum of the rest of the frame.
func validateFrame(f []byte) bool {
	if len(f) == 0 {
		return false
	}
	return f[len(f)-1] == checksum(f, len(f)-1)
}

// validateIdentifyReply additionally requires bytes 0 and 2 to both equal
// cmdIdentify, per spec.md §4.3 step 4.
func validateIdentifyReply(f []byte) bool {
	return validateFrame(f) && f[0] == cmdIdentify && f[2] == cmdIdentify
}
