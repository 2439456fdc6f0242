package lpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBasics(t *testing.T) {
	cases := []struct {
		in   Value
		want string
	}{
		{nil, "0"},
		{Int(0), "0"},
		{Int(-42), "-42"},
		{Int(2147483647), "2147483647"},
		{Float(3.5), "3.5"},
		{Float(2), "2.0"},
		{Str("hi"), `"hi"`},
		{Str(`a"b\c`), `"a\"b\\c"`},
		{Str("line\nbreak"), `"line\nbreak"`},
		{Bool(true), "1"},
		{Bool(false), "0"},
		{Array{}, "({})"},
		{Array{Int(1), Str("x")}, `({1,"x",})`},
		{Mapping{{Str("k"), Int(7)}}, `(["k":7,])`},
	}
	for _, tc := range cases {
		got, err := Encode(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, string(got))
	}
}

func TestRoundTrip(t *testing.T) {
	values := []Value{
		Int(0),
		Int(-2147483648),
		Int(2147483647),
		Float(1.25),
		Str(""),
		Str("with \"quotes\" and \\slashes\\ and\nnewlines"),
		Array{},
		Array{Str("tell"), Int(5), Str("MudA"), Str("u1"), Str("MudB"), Str("u2"), Str("u1"), Str("Hi!")},
		Mapping{},
		Mapping{
			{Str("tell"), Int(1)},
			{Str("channel"), Int(1)},
			{Int(3), Str("numeric key")},
		},
		Array{
			Mapping{{Str("nested"), Array{Int(1), Int(2), Int(3)}}},
			Float(-0.5),
		},
	}
	for _, v := range values {
		data, err := Encode(v)
		require.NoError(t, err)
		back, err := Decode(data)
		require.NoError(t, err, "input %q", data)
		assert.Equal(t, v, back, "round trip of %q", data)
	}
}

func TestDecodeTolerance(t *testing.T) {
	// Whitespace between tokens.
	v, err := Decode([]byte("({ 1 , \"a\" , })"))
	require.NoError(t, err)
	assert.Equal(t, Array{Int(1), Str("a")}, v)

	// Missing trailing comma, as some drivers emit.
	v, err = Decode([]byte(`({1,2})`))
	require.NoError(t, err)
	assert.Equal(t, Array{Int(1), Int(2)}, v)

	// Trailing NUL stripped before parse.
	v, err = Decode(append([]byte(`"x"`), 0))
	require.NoError(t, err)
	assert.Equal(t, Str("x"), v)

	// Trailing garbage after the first value is ignored.
	v, err = Decode([]byte(`42 junk`))
	require.NoError(t, err)
	assert.Equal(t, Int(42), v)
}

func TestDecodeErrors(t *testing.T) {
	cases := []string{
		"",
		"(",
		"(x",
		"({1,",
		`"unterminated`,
		`([1,])`, // key without value
		"}",
	}
	for _, in := range cases {
		_, err := Decode([]byte(in))
		require.Error(t, err, "input %q", in)
		var de *DecodeError
		assert.ErrorAs(t, err, &de, "input %q", in)
	}

	_, err := Decode([]byte{0xff, 0xfe})
	require.Error(t, err)

	// Position is reported for diagnostics.
	_, err = Decode([]byte("({@})"))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 2, de.Pos)
}

func TestBufferEncodesAsString(t *testing.T) {
	data, err := Encode(Buffer([]byte{'o', 'k', 0xff}))
	require.NoError(t, err)
	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, Str("ok�"), back)
}

func TestMappingHelpers(t *testing.T) {
	m := Mapping{}
	m = m.Set(Str("a"), Int(1))
	m = m.Set(Str("a"), Int(2))
	m = m.Set(Int(9), Str("nine"))

	v, ok := m.GetStr("a")
	require.True(t, ok)
	assert.Equal(t, Int(2), v)

	_, ok = m.GetStr("missing")
	assert.False(t, ok)

	assert.Equal(t, 2, len(m))
	assert.Equal(t, "nine", StringOr(m[1].Val, ""))
	assert.Equal(t, 7, IntOr(Str("not an int"), 7))
}
