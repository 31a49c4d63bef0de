package algorand

import (
	"bytes"
	"crypto/sha512"
	"encoding/base32"
	"errors"
	"fmt"
)

const (
	publicKeySize = 32
	checksumSize  = 4
	addressLength = 58
)

var (
	// ErrInvalidAddress is returned for strings that are not Algorand addresses.
	ErrInvalidAddress = errors.New("invalid algorand address")

	addressEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)
)

// DecodeAddress returns the 32-byte public key encoded in addr after
// verifying its checksum.
func DecodeAddress(addr string) ([]byte, error) {
	if len(addr) != addressLength {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidAddress, len(addr))
	}
	raw, err := addressEncoding.DecodeString(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != publicKeySize+checksumSize {
		return nil, fmt.Errorf("%w: decoded length %d", ErrInvalidAddress, len(raw))
	}
	key, sum := raw[:publicKeySize], raw[publicKeySize:]
	if !bytes.Equal(sum, checksum(key)) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	return key, nil
}

// EncodeAddress is the inverse of DecodeAddress.
func EncodeAddress(publicKey []byte) (string, error) {
	if len(publicKey) != publicKeySize {
		return "", fmt.Errorf("%w: public key length %d", ErrInvalidAddress, len(publicKey))
	}
	raw := append(append([]byte{}, publicKey...), checksum(publicKey)...)
	return addressEncoding.EncodeToString(raw), nil
}

func checksum(publicKey []byte) []byte {
	h := sha512.Sum512_256(publicKey)
	return h[len(h)-checksumSize:]
}
