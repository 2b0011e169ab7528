package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"

	"github.com/screa/origins-minter/pkg/types"
)

const (
	// PrivateKeyHexLen is the length of a secp256k1 key in hex characters.
	PrivateKeyHexLen = 64
	AddressLen       = 20
)

var (
	ErrEmptyKey       = errors.New("empty private key")
	ErrInvalidKeyHex  = errors.New("private key is not valid hex")
	ErrInvalidAddress = errors.New("invalid address")
)

// Keccak256 calculates the keccak256 hash of the input bytes
func Keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(data)
	return h.Sum(nil)
}

// ParsePrivateKey decodes a hex private key, with or without 0x.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	h := trimHexPrefix(strings.TrimSpace(hexKey))
	if h == "" {
		return nil, ErrEmptyKey
	}
	if len(h) != PrivateKeyHexLen {
		return nil, fmt.Errorf("%w: got %d hex chars, want %d", ErrInvalidKeyHex, len(h), PrivateKeyHexLen)
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyHex, err)
	}
	key, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// DeriveAccount parses hexKey and derives its address.
func DeriveAccount(hexKey string) (types.Account, error) {
	key, err := ParsePrivateKey(hexKey)
	if err != nil {
		return types.Account{}, err
	}
	return types.Account{
		PrivateKey: key,
		Address:    ethcrypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// ParseAddress decodes a 20-byte hex address (with or without 0x).
func ParseAddress(addr string) (common.Address, error) {
	h := trimHexPrefix(strings.TrimSpace(addr))
	if len(h) != AddressLen*2 {
		return common.Address{}, fmt.Errorf("%w: got %d hex chars, want %d", ErrInvalidAddress, len(h), AddressLen*2)
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return common.BytesToAddress(b), nil
}

// ChecksumAddress renders addr in EIP-55 mixed case.
func ChecksumAddress(addr common.Address) string {
	hexLower := hex.EncodeToString(addr[:])
	hash := Keccak256([]byte(hexLower))

	var out strings.Builder
	out.Grow(2 + 2*AddressLen)
	out.WriteString("0x")
	for i := 0; i < len(hexLower); i++ {
		c := hexLower[i]
		if c >= '0' && c <= '9' {
			out.WriteByte(c)
			continue
		}
		// nibble i of the hash decides the case of character i
		n := (hash[i/2] >> uint(4*(1-i%2))) & 0xF
		if n >= 8 {
			out.WriteByte(c - 'a' + 'A')
		} else {
			out.WriteByte(c)
		}
	}
	return out.String()
}

func trimHexPrefix(h string) string {
	if len(h) >= 2 && (h[0:2] == "0x" || h[0:2] == "0X") {
		return h[2:]
	}
	return h
}
