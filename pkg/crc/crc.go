// Package crc implements the two 16 bit checksums used on the wire: the pod
// message footer and the CGM transmitter CRC-16/XMODEM.
package crc

const (
	podPolynomial    = 0x8005
	xmodemPolynomial = 0x1021
)

// The pod firmware builds its table MSB-first but walks it LSB-first.
var podTable = makeTable(podPolynomial)

func makeTable(poly uint16) [256]uint16 {
	var t [256]uint16
	for i := range t {
		c := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if c&0x8000 != 0 {
				c = (c << 1) ^ poly
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}

// Checksum computes the pod CRC-16 of data.
func Checksum(data []byte) uint16 {
	var acc uint16
	for _, b := range data {
		acc = (acc >> 8) ^ podTable[(acc^uint16(b))&0xff]
	}
	return acc
}

// CRC16 returns the pod CRC-16 of data as the two big endian bytes appended
// to every message.
func CRC16(data []byte) []byte {
	sum := Checksum(data)
	return []byte{byte(sum >> 8), byte(sum)}
}

// TableValue returns entry i (0-255) of the pod CRC table. The nonce resync
// arithmetic indexes it with the message sequence number.
func TableValue(i int) uint16 {
	return podTable[i&0xff]
}

// XModem computes CRC-16/XMODEM (poly 0x1021, init 0, no reflection).
func XModem(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ xmodemPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
