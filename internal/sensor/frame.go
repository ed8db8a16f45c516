package sensor

// Frame is the raw 40-bit transmission: humidity hi/lo, temperature hi/lo,
// checksum.
type Frame [5]byte

// Checksum returns the low byte of the sum of the four data bytes.
func (f Frame) Checksum() byte {
	return f[0] + f[1] + f[2] + f[3]
}

// Valid reports whether the checksum byte matches the data bytes.
func (f Frame) Valid() bool {
	return f[4] == f.Checksum()
}

// Reading converts the data bytes. Each big-endian 16-bit raw value is in
// tenths of a unit.
func (f Frame) Reading() Reading {
	hum := uint16(f[0])<<8 | uint16(f[1])
	temp := uint16(f[2])<<8 | uint16(f[3])
	return Reading{
		Temperature: tenths(temp),
		Humidity:    tenths(hum),
	}
}

func tenths(raw uint16) float32 {
	return float32(raw) / 10.0
}

// FrameFor encodes r into a frame with a valid checksum. Negative values are
// clamped to zero.
func FrameFor(r Reading) Frame {
	hum := toTenths(r.Humidity)
	temp := toTenths(r.Temperature)
	f := Frame{byte(hum >> 8), byte(hum), byte(temp >> 8), byte(temp)}
	f[4] = f.Checksum()
	return f
}

func toTenths(v float32) uint16 {
	if v <= 0 {
		return 0
	}
	x := v*10 + 0.5
	if x >= 65535 {
		return 65535
	}
	return uint16(x)
}
