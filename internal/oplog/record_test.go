package oplog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordRoundtrip(t *testing.T) {
	rec := EncodeRecord([]byte("h"), []byte("payload"))
	dec, ok := DecodeRecord(rec)
	require.True(t, ok)
	require.Equal(t, "h", string(dec.Header))
	require.Equal(t, "payload", string(dec.Payload))
}

func TestRecordRejectsDamage(t *testing.T) {
	rec := EncodeRecord([]byte("x"), []byte("y"))
	bad := append([]byte(nil), rec...)
	bad[len(bad)-1] ^= 0xFF
	_, ok := DecodeRecord(bad)
	require.False(t, ok, "crc mismatch")

	_, ok = DecodeRecord(rec[:3])
	require.False(t, ok, "truncated")
}
