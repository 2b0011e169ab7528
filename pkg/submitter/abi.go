package submitter

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// MintMethod is the contract function called for every eligible account.
const MintMethod = "mint"

//go:embed mint_abi.json
var mintABI []byte

// LoadABI parses the ABI at path, or the built-in mint ABI when path is empty.
// The result must expose MintMethod.
func LoadABI(path string) (abi.ABI, error) {
	raw := mintABI
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return abi.ABI{}, err
		}
		raw = b
	}

	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	if _, ok := parsed.Methods[MintMethod]; !ok {
		return abi.ABI{}, fmt.Errorf("abi has no %q method", MintMethod)
	}
	return parsed, nil
}
