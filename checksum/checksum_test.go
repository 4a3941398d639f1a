package checksum_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/U22-2025/WIP-sub001/checksum"
)

func TestComputeAllZero(t *testing.T) {
	buf := make([]byte, 16)
	// sum of all-zero bytes is 0; fold loop never runs; complement of 0 is 0xFFF.
	require.Equal(t, uint16(0xFFF), checksum.Compute(buf))
}

func TestVerifyRoundTrip(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0, 0}
	sum := checksum.Compute(buf)
	require.True(t, checksum.Verify(buf, sum))
}

func TestVerifyDetectsBitFlip(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0, 0}
	sum := checksum.Compute(buf)

	for i := range buf {
		for bit := 0; bit < 8; bit++ {
			// skip bytes 14-15, which hold the header's checksum field (bits
			// 116-127): flipping those changes what checksum "should" be.
			if i >= 14 {
				continue
			}
			flipped := append([]byte(nil), buf...)
			flipped[i] ^= 1 << uint(bit)
			require.False(t, checksum.Verify(flipped, sum), "byte %d bit %d flip went undetected", i, bit)
		}
	}
}

func TestComputeFoldsCarry(t *testing.T) {
	// A buffer whose byte sum overflows 12 bits must fold back, not wrap silently.
	buf := make([]byte, 600)
	for i := range buf {
		buf[i] = 0xFF
	}
	sum := checksum.Compute(buf)
	require.LessOrEqual(t, sum, uint16(0xFFF))
}
