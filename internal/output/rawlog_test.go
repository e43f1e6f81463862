package output

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawLogRoundTrip(t *testing.T) {
	w, err := NewRawLogWriter(t.TempDir(), "raw_cbor")
	require.NoError(t, err)
	payloads := [][]byte{[]byte("first"), {}, bytes.Repeat([]byte{0xab}, 4096)}
	for _, p := range payloads {
		require.NoError(t, w.Record(p))
	}
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Error(t, w.Record([]byte("late")))

	f, err := os.Open(w.Path())
	require.NoError(t, err)
	defer f.Close()

	var got [][]byte
	require.NoError(t, ReadRawLog(f, func(rec RawRecord) error {
		assert.False(t, rec.Received.IsZero())
		got = append(got, rec.Payload)
		return nil
	}))
	assert.Equal(t, payloads, got)
}

func TestReadRawLogDetectsCorruption(t *testing.T) {
	w, err := NewRawLogWriter(t.TempDir(), "raw")
	require.NoError(t, err)
	require.NoError(t, w.Record([]byte("payload")))
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff

	err = ReadRawLog(bytes.NewReader(raw), func(RawRecord) error { return nil })
	assert.ErrorIs(t, err, ErrChecksum)

	err = ReadRawLog(bytes.NewReader(raw[:len(raw)-3]), func(RawRecord) error { return nil })
	assert.Error(t, err)

	err = ReadRawLog(bytes.NewReader([]byte("NOTMAGIC")), func(RawRecord) error { return nil })
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestReadRawLogStopsOnCallbackError(t *testing.T) {
	w, err := NewRawLogWriter(t.TempDir(), "raw")
	require.NoError(t, err)
	require.NoError(t, w.Record([]byte("a")))
	require.NoError(t, w.Record([]byte("b")))
	require.NoError(t, w.Close())

	f, err := os.Open(w.Path())
	require.NoError(t, err)
	defer f.Close()

	stop := errors.New("stop")
	var n int
	err = ReadRawLog(f, func(RawRecord) error {
		n++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}
