package archive

// crcPolynomial is the bit-reflected IEEE 802.3 polynomial.
const crcPolynomial = 0xEDB88320

// CRC32 computes the IEEE CRC-32 of data with the bitwise reflected
// algorithm used by the zip format: crc32("123456789") == 0xCBF43926.
func CRC32(data []byte) uint32 {
	return UpdateCRC32(0, data)
}

// UpdateCRC32 continues a CRC-32 computed over a previous chunk.
func UpdateCRC32(crc uint32, data []byte) uint32 {
	crc = ^crc
	for _, b := range data {
		crc ^= uint32(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crcPolynomial
			} else {
				crc >>= 1
			}
		}
	}
	return ^crc
}
