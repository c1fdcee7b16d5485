package solana

import (
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wrappedSOL = "So11111111111111111111111111111111111111112"

func TestIsAddress(t *testing.T) {
	assert.True(t, IsAddress(wrappedSOL))
	assert.True(t, IsAddress(MetaplexProgramID))
	assert.False(t, IsAddress("bonk"))
	assert.False(t, IsAddress("0OIl"))
	assert.False(t, IsAddress(""))
}

func TestMetadataAddress(t *testing.T) {
	addr, err := MetadataAddress(wrappedSOL)
	require.NoError(t, err)
	assert.True(t, IsAddress(addr))

	raw, _ := base58.Decode(addr)
	assert.False(t, isOnCurve(raw), "program address must be off curve")

	again, err := MetadataAddress(wrappedSOL)
	require.NoError(t, err)
	assert.Equal(t, addr, again)

	_, err = MetadataAddress("not-a-mint")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func borshString(s string) []byte {
	b := make([]byte, 4, 4+len(s))
	binary.LittleEndian.PutUint32(b, uint32(len(s)))
	return append(b, s...)
}

func metadataAccount(key byte, name, symbol, uri string) string {
	authority, _ := base58.Decode(MetaplexProgramID)
	mint, _ := base58.Decode(wrappedSOL)

	buf := []byte{key}
	buf = append(buf, authority...)
	buf = append(buf, mint...)
	buf = append(buf, borshString(name)...)
	buf = append(buf, borshString(symbol)...)
	buf = append(buf, borshString(uri)...)
	buf = append(buf, 0xff, 0x01) // trailing fields are ignored
	return base64.StdEncoding.EncodeToString(buf)
}

func TestParseMetadataAccount(t *testing.T) {
	data := metadataAccount(4, "Wrapped SOL\x00\x00\x00", "SOL\x00\x00", "https://example.com/sol.json\x00\x00")

	meta, err := ParseMetadataAccount(data)
	require.NoError(t, err)
	assert.Equal(t, "Wrapped SOL", meta.Name)
	assert.Equal(t, "SOL", meta.Symbol)
	assert.Equal(t, "https://example.com/sol.json", meta.URI)
	assert.Equal(t, wrappedSOL, meta.Mint)
	assert.Equal(t, MetaplexProgramID, meta.UpdateAuthority)
}

func TestParseMetadataAccount_Invalid(t *testing.T) {
	_, err := ParseMetadataAccount(metadataAccount(5, "a", "b", "c"))
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	_, err = ParseMetadataAccount(base64.StdEncoding.EncodeToString([]byte{4, 1, 2}))
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	full, _ := base64.StdEncoding.DecodeString(metadataAccount(4, "name", "sym", "https://x"))
	truncated := base64.StdEncoding.EncodeToString(full[:len(full)-8])
	_, err = ParseMetadataAccount(truncated)
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	_, err = ParseMetadataAccount("!!!")
	assert.Error(t, err)
}
