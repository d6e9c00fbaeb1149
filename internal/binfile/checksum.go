package binfile

// Fletcher32 computes a Fletcher-32 checksum over data, used to validate
// store headers. Data of odd length is zero-padded by one byte.
func Fletcher32(data []byte) uint32 {
	var sum1, sum2 uint32
	i := 0
	for i+1 < len(data) {
		sum1 = (sum1 + (uint32(data[i]) | uint32(data[i+1])<<8)) % 65535
		sum2 = (sum2 + sum1) % 65535
		i += 2
	}
	if i < len(data) {
		sum1 = (sum1 + uint32(data[i])) % 65535
		sum2 = (sum2 + sum1) % 65535
	}
	return sum2<<16 | sum1
}
