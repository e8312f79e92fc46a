package sexpr

import (
	"math"
	"strconv"
	"strings"
)

// Numeric literal decoding shared by the script and module parsers.
// Wasm text integers allow sign prefixes, hex, and '_' separators;
// floats additionally allow hex floats, inf, and the nan family.

// ParseIntBits decodes an integer literal into its two's-complement
// bit pattern at the given width.
func ParseIntBits(text string, bits uint) (uint64, bool) {
	s := strings.ReplaceAll(text, "_", "")
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		s = s[2:]
	}

	v, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, false
	}

	if neg {
		limit := uint64(1) << (bits - 1)
		if v > limit {
			return 0, false
		}
		if bits == 64 {
			return -v, true
		}
		return (-v) & (1<<bits - 1), true
	}
	if bits < 64 && v >= 1<<bits {
		return 0, false
	}
	return v, true
}

const (
	f32CanonicalNaN = uint64(0x7FC0_0000)
	f64CanonicalNaN = uint64(0x7FF8_0000_0000_0000)
)

// ParseFloatBits decodes a float literal (decimal, hex float, inf, or
// nan with optional payload) into its bit pattern at width 32 or 64.
func ParseFloatBits(text string, bits uint) (uint64, bool) {
	s := strings.ReplaceAll(text, "_", "")

	sign := uint64(0)
	switch {
	case strings.HasPrefix(s, "-"):
		sign = 1
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	signBit := sign << (bits - 1)

	switch {
	case s == "inf":
		if bits == 32 {
			return signBit | uint64(math.Float32bits(float32(math.Inf(1)))), true
		}
		return signBit | math.Float64bits(math.Inf(1)), true

	case s == "nan", s == "nan:canonical", s == "nan:arithmetic":
		if bits == 32 {
			return signBit | f32CanonicalNaN, true
		}
		return signBit | f64CanonicalNaN, true

	case strings.HasPrefix(s, "nan:0x"):
		payload, err := strconv.ParseUint(s[6:], 16, 64)
		if err != nil || payload == 0 {
			return 0, false
		}
		if bits == 32 {
			if payload >= 1<<23 {
				return 0, false
			}
			return signBit | 0x7F80_0000 | payload, true
		}
		if payload >= 1<<52 {
			return 0, false
		}
		return signBit | 0x7FF0_0000_0000_0000 | payload, true
	}

	// Go rejects hex floats without a binary exponent; supply the
	// implied p0.
	if (strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) &&
		!strings.ContainsAny(s, "pP") {
		s += "p0"
	}

	f, err := strconv.ParseFloat(s, int(bits))
	if err != nil {
		return 0, false
	}
	if bits == 32 {
		return signBit | uint64(math.Float32bits(float32(f))), true
	}
	return signBit | math.Float64bits(f), true
}
