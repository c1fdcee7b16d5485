package solana

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// MetaplexProgramID is the Token Metadata program.
const MetaplexProgramID = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"

// metadataKeyV1 tags a Metaplex MetadataV1 account.
const metadataKeyV1 = 4

var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrNoProgramAddress = errors.New("unable to find a viable program address bump")
	ErrInvalidMetadata  = errors.New("invalid metadata account")
)

// IsAddress reports whether s decodes from base58 to a 32-byte public key.
func IsAddress(s string) bool {
	b, err := base58.Decode(s)
	return err == nil && len(b) == 32
}

func decodeAddress(s string) ([]byte, error) {
	b, err := base58.Decode(s)
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return b, nil
}

// FindProgramAddress derives the PDA for seeds under programID, searching bumps
// from 255 down for a hash that is off the ed25519 curve.
func FindProgramAddress(seeds [][]byte, programID string) (string, uint8, error) {
	program, err := decodeAddress(programID)
	if err != nil {
		return "", 0, err
	}

	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(program)
		h.Write([]byte("ProgramDerivedAddress"))
		sum := h.Sum(nil)

		if !isOnCurve(sum) {
			return base58.Encode(sum), uint8(bump), nil
		}
	}
	return "", 0, ErrNoProgramAddress
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// MetadataAddress derives the Metaplex metadata account of mint.
// Seeds: ["metadata", program id, mint].
func MetadataAddress(mint string) (string, error) {
	mintBytes, err := decodeAddress(mint)
	if err != nil {
		return "", err
	}
	program, _ := base58.Decode(MetaplexProgramID)

	addr, _, err := FindProgramAddress([][]byte{[]byte("metadata"), program, mintBytes}, MetaplexProgramID)
	return addr, err
}

// OnChainMetadata is the leading part of a Metaplex metadata account.
type OnChainMetadata struct {
	UpdateAuthority string
	Mint            string
	Name            string
	Symbol          string
	URI             string
}

// ParseMetadataAccount decodes base64 account data laid out as:
// key u8 (4), updateAuthority [32], mint [32], then borsh strings name, symbol, uri.
// Strings are NUL-padded on chain; padding is trimmed.
func ParseMetadataAccount(data string) (*OnChainMetadata, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode metadata data: %w", err)
	}
	if len(raw) < 65 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidMetadata, len(raw))
	}
	if raw[0] != metadataKeyV1 {
		return nil, fmt.Errorf("%w: key %d", ErrInvalidMetadata, raw[0])
	}

	meta := &OnChainMetadata{
		UpdateAuthority: base58.Encode(raw[1:33]),
		Mint:            base58.Encode(raw[33:65]),
	}
	r := borshReader{buf: raw, off: 65}
	for _, dst := range []*string{&meta.Name, &meta.Symbol, &meta.URI} {
		s, err := r.string(256)
		if err != nil {
			return nil, err
		}
		*dst = strings.TrimRight(s, "\x00 ")
	}
	return meta, nil
}

type borshReader struct {
	buf []byte
	off int
}

// string reads a u32 length-prefixed string of at most limit bytes.
func (r *borshReader) string(limit int) (string, error) {
	if r.off+4 > len(r.buf) {
		return "", fmt.Errorf("%w: truncated at %d", ErrInvalidMetadata, r.off)
	}
	n := int(binary.LittleEndian.Uint32(r.buf[r.off:]))
	r.off += 4
	if n > limit || r.off+n > len(r.buf) {
		return "", fmt.Errorf("%w: string length %d at %d", ErrInvalidMetadata, n, r.off)
	}
	s := string(r.buf[r.off : r.off+n])
	r.off += n
	return s, nil
}
