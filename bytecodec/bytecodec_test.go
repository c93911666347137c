package bytecodec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripIntegers(t *testing.T) {
	buf := make([]byte, 8)

	PutU8(buf, 0xAB)
	require.EqualValues(t, 0xAB, GetU8(buf))

	PutI16(buf, -1000)
	require.EqualValues(t, -1000, GetI16(buf))

	PutU32(buf, 0xDEADBEEF)
	require.EqualValues(t, 0xDEADBEEF, GetU32(buf))

	PutI64(buf, -123456789012345)
	require.EqualValues(t, -123456789012345, GetI64(buf))
}

func TestRoundTripFloats(t *testing.T) {
	buf := make([]byte, 8)

	PutF32(buf, 3.5)
	require.EqualValues(t, float32(3.5), GetF32(buf))

	PutF64(buf, -2.25)
	require.EqualValues(t, -2.25, GetF64(buf))
}

func TestU32IsBigEndian(t *testing.T) {
	buf := make([]byte, 4)
	PutU32(buf, 0x01020304)
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, buf)
}
