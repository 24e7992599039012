// Package checksum implements the CRC16 used by the container header.
//
// The polynomial is 0x1021 processed MSB first, with the register inverted on
// entry and exit (CRC-16/GENIBUS).
package checksum

const poly = 0x1021

var table = func() (t [256]uint16) {
	for i := range t {
		crc := uint16(i) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// Update continues a checksum previously returned by Update or CRC16.
func Update(crc uint16, data []byte) uint16 {
	crc = ^crc
	for _, b := range data {
		crc = crc<<8 ^ table[byte(crc>>8)^b]
	}
	return ^crc
}

// CRC16 returns the checksum of data.
func CRC16(data []byte) uint16 {
	return Update(0, data)
}
