package info

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestCodecRoundTrip(t *testing.T) {
	in := New()
	Set(in, "identifier", "vector_of_pi")
	Set(in, "echo_level", -3)
	Set(in, "tol", 1e-12)
	Set(in, "is_converged", false)
	Set(in, "empty", "")
	Set(in, "ids", []int{-1, 0, math.MaxInt32, math.MinInt32})
	sub := New()
	Set(sub, "a", 1)
	Set(in, "sub", sub)

	decoded, err := Unmarshal(Marshal(in))
	require.NoError(t, err)
	require.Equal(t, in.Keys(), decoded.Keys())
	require.Equal(t, in.String(), decoded.String())

	empty, err := Unmarshal(nil)
	require.NoError(t, err)
	require.Equal(t, 0, empty.Size())
}

func TestCodecRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte{0x0a, 0x05, 0x01})
	require.ErrorIs(t, err, ErrInvalidEncoding)

	// an entry announcing an int but carrying a string
	var raw []byte
	raw = protowire.AppendTag(raw, fieldKey, protowire.BytesType)
	raw = protowire.AppendString(raw, "k")
	raw = protowire.AppendTag(raw, fieldKind, protowire.VarintType)
	raw = protowire.AppendVarint(raw, uint64(KindInt))
	raw = protowire.AppendTag(raw, fieldString, protowire.BytesType)
	raw = protowire.AppendString(raw, "oops")

	var msg []byte
	msg = protowire.AppendTag(msg, fieldEntry, protowire.BytesType)
	msg = protowire.AppendBytes(msg, raw)
	_, err = Unmarshal(msg)
	require.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestCodecRejectsWideInts(t *testing.T) {
	wide := New()
	Set(wide, "n", math.MaxInt32+1)
	_, err := Unmarshal(Marshal(wide))
	require.ErrorIs(t, err, ErrInvalidEncoding)
	require.ErrorIs(t, err, ErrOutOfRange)

	list := New()
	Set(list, "ids", []int{1, math.MinInt32 - 1})
	_, err = Unmarshal(Marshal(list))
	require.ErrorIs(t, err, ErrOutOfRange)

	nested := New()
	Set(nested, "sub", wide)
	_, err = Unmarshal(Marshal(nested))
	require.ErrorIs(t, err, ErrOutOfRange)
}
