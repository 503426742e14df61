// Package owp1 implements the OWP-1 wire protocol: fixed-layout,
// little-endian, CRC8-checked HID reports for torque output, device
// telemetry, capability negotiation, and the high-torque safety
// challenge/ack exchange.
package owp1

// crc8Table is the CRC-8 lookup table for polynomial 0x07 (x^8+x^2+x+1),
// MSB-first, no reflection, initial value 0, XOR-out 0. Built the same
// way controller.go's Bitmain CRC16 tables are: a precomputed 256-entry
// table indexed by (running CRC XOR next byte).
var crc8Table = func() [256]byte {
	const poly = 0x07
	var table [256]byte
	for i := 0; i < 256; i++ {
		crc := byte(i)
		for bit := 0; bit < 8; bit++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}()

// crc8 computes the CRC-8 checksum over data using polynomial 0x07.
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc
}
