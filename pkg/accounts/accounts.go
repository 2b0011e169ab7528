// Package accounts loads signing keys from a newline-delimited file.
package accounts

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"

	"github.com/screa/origins-minter/internal/crypto"
	"github.com/screa/origins-minter/pkg/types"
)

// ReadKeys returns the non-blank, trimmed lines of r in order.
func ReadKeys(r io.Reader) ([]string, error) {
	var keys []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		keys = append(keys, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Load reads the key file at path and derives an Account per line. A bad line
// fails the whole load, reported by line number so the key never hits the log.
func Load(path string) ([]types.Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	keys, err := ReadKeys(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	accs := make([]types.Account, 0, len(keys))
	for i, k := range keys {
		acc, err := crypto.DeriveAccount(k)
		if err != nil {
			return nil, fmt.Errorf("key #%d in %s: %w", i+1, path, err)
		}
		accs = append(accs, acc)
	}
	return accs, nil
}

// Shuffle permutes accs in place.
func Shuffle(accs []types.Account) {
	rand.Shuffle(len(accs), func(i, j int) {
		accs[i], accs[j] = accs[j], accs[i]
	})
}
