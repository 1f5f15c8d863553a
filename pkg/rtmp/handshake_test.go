package rtmp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func serverHandshake(s1 byte) []byte {
	b := make([]byte, 1+2*handshakeSize)
	b[0] = handshakeVersion
	for i := 1 + 8; i < 1+handshakeSize; i++ {
		b[i] = s1
	}
	return b
}

func TestHandshake(t *testing.T) {
	hs := NewHandshake()

	c0c1 := hs.C0C1()
	require.Len(t, c0c1, 1537)
	require.Equal(t, byte(3), c0c1[0])

	s := serverHandshake(0xAA)
	res, err := hs.Process(append(s, 1, 2, 3))
	require.Nil(t, err)
	require.True(t, res.Done)
	require.Len(t, res.Response, handshakeSize)
	require.Equal(t, s[1+8:1+handshakeSize], res.Response[8:]) // S1 random echo
	require.Equal(t, []byte{1, 2, 3}, res.Remaining)

	_, err = hs.Process([]byte{0})
	require.ErrorIs(t, err, ErrHandshakeDone)
}

func TestHandshakeByteByByte(t *testing.T) {
	hs := NewHandshake()
	_ = hs.C0C1()

	s := serverHandshake(0x55)

	var responses int
	for i := range s {
		res, err := hs.Process(s[i : i+1])
		require.Nil(t, err)

		if len(res.Response) > 0 {
			responses++
			require.Equal(t, 1+handshakeSize-1, i) // right after S1
		}

		require.Equal(t, i == len(s)-1, res.Done)
	}
	require.Equal(t, 1, responses)
}

func TestHandshakeVersion(t *testing.T) {
	hs := NewHandshake()
	_ = hs.C0C1()

	s := serverHandshake(0)
	s[0] = 6 // encrypted
	_, err := hs.Process(s)
	require.ErrorIs(t, err, ErrHandshakeVersion)
}
