// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pac

// ChecksumFunc computes the trailing checksum byte over everything before it
type ChecksumFunc func(data []byte) byte

// Checksum returns the two's complement of the byte sum, so that a frame
// including its checksum sums to zero
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum + 1
}
