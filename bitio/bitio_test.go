package bitio_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/U22-2025/WIP-sub001/bitio"
)

func TestExtractInsertRoundTrip(t *testing.T) {
	buf := make([]byte, 16)
	bitio.InsertBits(buf, 4, 12, 0xABC)
	require.Equal(t, uint64(0xABC), bitio.ExtractBits(buf, 4, 12))
}

func TestBitIsolation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		offset := rng.Intn(8 * 8)
		length := 1 + rng.Intn(64)
		if offset+length > 8*8 {
			length = 8*8 - offset
			if length <= 0 {
				continue
			}
		}
		value := rng.Uint64()

		buf := make([]byte, 8)
		bitio.InsertBits(buf, offset, length, value)

		got := bitio.ExtractBits(buf, offset, length)
		var mask uint64
		if length >= 64 {
			mask = ^uint64(0)
		} else {
			mask = (uint64(1) << uint(length)) - 1
		}
		require.Equal(t, value&mask, got)

		// Every bit outside [offset, offset+length) must remain zero.
		for bit := 0; bit < 8*8; bit++ {
			if bit >= offset && bit < offset+length {
				continue
			}
			bytePos, bitPos := bit/8, uint(bit%8)
			require.Zerof(t, buf[bytePos]&(1<<bitPos), "bit %d leaked outside [%d,%d)", bit, offset, offset+length)
		}
	}
}

func TestExtractPastBufferReturnsZero(t *testing.T) {
	buf := make([]byte, 2)
	require.Equal(t, uint64(0), bitio.ExtractBits(buf, 64, 8))
}

func TestInsertPastBufferIsNoop(t *testing.T) {
	buf := make([]byte, 2)
	before := append([]byte(nil), buf...)
	bitio.InsertBits(buf, 64, 8, 0xFF)
	require.Equal(t, before, buf)
}

func TestLittleEndianHelpersRoundTrip(t *testing.T) {
	buf := make([]byte, 16)

	bitio.WriteUint16LE(buf, 0, 0x1234)
	require.Equal(t, uint16(0x1234), bitio.ReadUint16LE(buf, 0))

	bitio.WriteUint32LE(buf, 2, 0xDEADBEEF)
	require.Equal(t, uint32(0xDEADBEEF), bitio.ReadUint32LE(buf, 2))

	bitio.WriteUint64LE(buf, 6, 0x0102030405060708)
	require.Equal(t, uint64(0x0102030405060708), bitio.ReadUint64LE(buf, 6))
}

func TestShortBufferHelpersDoNotPanic(t *testing.T) {
	buf := make([]byte, 1)
	require.NotPanics(t, func() {
		_ = bitio.ReadUint64LE(buf, 0)
		bitio.WriteUint64LE(buf, 0, 1)
	})
}
