package can

// dlcLengths maps a 4-bit data length code to its payload size in bytes.
var dlcLengths = [16]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// LenToDLC converts a payload length to its data length code.
// Lengths 0..8 map to themselves; larger lengths map to the smallest FD
// bucket that holds them, so the mapping is not injective above 8 bytes.
// Lengths above 64 are a caller error and yield 15.
func LenToDLC(n uint8) uint8 {
	switch {
	case n <= 8:
		return n
	case n <= 12:
		return 9
	case n <= 16:
		return 10
	case n <= 20:
		return 11
	case n <= 24:
		return 12
	case n <= 32:
		return 13
	case n <= 48:
		return 14
	default:
		return 15
	}
}

// DLCToLen converts a data length code to the canonical payload length of
// its bucket. Only the low nibble of dlc is used.
func DLCToLen(dlc uint8) uint8 { return dlcLengths[dlc&0xF] }

// Standard identifiers sit in bits 28:18 of a message element's ID field.
const stdIDShift = 18

// WriteStdID places an 11-bit identifier into its element field position.
func WriteStdID(id uint32) uint32 { return (id & MaxStdID) << stdIDShift }

// ReadStdID extracts an 11-bit identifier from its element field position.
func ReadStdID(field uint32) uint32 { return (field >> stdIDShift) & MaxStdID }
