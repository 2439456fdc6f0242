package mudmode

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudnet/i3-gateway/internal/lpc"
)

func TestFrameLengthPrefix(t *testing.T) {
	v := lpc.Array{lpc.Str("tell"), lpc.Int(5), lpc.Str("MudA"), lpc.Str("u1"),
		lpc.Str("MudB"), lpc.Str("u2"), lpc.Str("u1"), lpc.Str("Hi!")}
	framed, err := Frame(v)
	require.NoError(t, err)

	payload, err := lpc.Encode(v)
	require.NoError(t, err)
	require.Equal(t, uint32(len(payload)), binary.BigEndian.Uint32(framed[:4]))
	assert.Equal(t, payload, framed[4:])
}

func TestFeedWholeFrames(t *testing.T) {
	f := NewFramer()
	a, _ := Frame(lpc.Array{lpc.Str("one")})
	b, _ := Frame(lpc.Array{lpc.Str("two")})

	got, err := f.Feed(append(a, b...))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, lpc.Array{lpc.Str("one")}, got[0])
	assert.Equal(t, lpc.Array{lpc.Str("two")}, got[1])
}

func TestFeedByteAtATime(t *testing.T) {
	f := NewFramer()
	a, _ := Frame(lpc.Array{lpc.Str("first"), lpc.Int(1)})
	b, _ := Frame(lpc.Mapping{{Key: lpc.Str("k"), Val: lpc.Str("second")}})
	stream := append(a, b...)

	var got []lpc.Value
	for i := range stream {
		vs, err := f.Feed(stream[i : i+1])
		require.NoError(t, err)
		got = append(got, vs...)
	}
	require.Len(t, got, 2)
	assert.Equal(t, lpc.Array{lpc.Str("first"), lpc.Int(1)}, got[0])
	assert.Equal(t, lpc.Mapping{{Key: lpc.Str("k"), Val: lpc.Str("second")}}, got[1])
}

func TestFeedDropsBadFrame(t *testing.T) {
	f := NewFramer()
	bad := []byte{0, 0, 0, 3, '(', 'x', ')'}
	good, _ := Frame(lpc.Int(7))

	got, err := f.Feed(append(bad, good...))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, lpc.Int(7), got[0])
	assert.Equal(t, uint64(1), f.Dropped())
}

func TestFeedOversizedFrame(t *testing.T) {
	f := NewFramer()
	f.SetMaxFrameSize(16)
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], 1<<24)

	_, err := f.Feed(hdr[:])
	require.Error(t, err)
	var fe *FrameError
	assert.ErrorAs(t, err, &fe)

	// The framer resets itself; subsequent well-formed traffic decodes.
	good, _ := Frame(lpc.Str("ok"))
	got, err := f.Feed(good)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, lpc.Str("ok"), got[0])
}

func TestResetDiscardsPartial(t *testing.T) {
	f := NewFramer()
	a, _ := Frame(lpc.Str("whole"))
	_, err := f.Feed(a[:len(a)-2])
	require.NoError(t, err)

	f.Reset()

	b, _ := Frame(lpc.Str("fresh"))
	got, err := f.Feed(b)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, lpc.Str("fresh"), got[0])
}
