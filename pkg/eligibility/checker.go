// Package eligibility queries the mint allow-list service for an address.
package eligibility

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/screa/origins-minter/internal/crypto"
	"github.com/screa/origins-minter/pkg/types"
)

// Known prefixes of the rarityData field.
const (
	RarePrefix   = "0x7c"
	CommonPrefix = "0x25"
)

// maxBodyBytes bounds what we read from the service.
const maxBodyBytes = 1 << 20

// StatusError is returned for non-200 responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("eligibility service: status=%d, body=%s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("eligibility service: status=%d", e.StatusCode)
}

func (e *StatusError) Unwrap() error { return types.ErrNetwork }

// Option customizes a Checker.
type Option func(*Checker)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(ch *Checker) { ch.client = c }
}

// WithRateLimit caps requests per second across every caller of the checker.
// Zero or less means unlimited.
func WithRateLimit(rps float64) Option {
	return func(ch *Checker) {
		if rps <= 0 {
			ch.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		ch.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithClock replaces the clock used for the timestamp query parameter.
func WithClock(c clock.Clock) Option {
	return func(ch *Checker) { ch.clock = c }
}

// Checker is safe for concurrent use.
type Checker struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	clock   clock.Clock
}

// NewChecker creates a checker against baseURL, e.g. https://nft.scroll.io/p.
func NewChecker(baseURL string, opts ...Option) *Checker {
	c := &Checker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Inf, 0),
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type metadataPayload struct {
	Deployer              string `json:"deployer"`
	FirstDeployedContract string `json:"firstDeployedContract"`
	BestDeployedContract  string `json:"bestDeployedContract"`
	RarityData            string `json:"rarityData"`
}

type payload struct {
	Metadata *metadataPayload `json:"metadata"`
	Proof    []string         `json:"proof"`
}

// Check fetches the eligibility of addr. An address with no allow-list entry
// yields types.ErrIneligible; transport failures wrap types.ErrNetwork and
// shape mismatches wrap types.ErrMalformedPayload.
func (c *Checker) Check(ctx context.Context, addr common.Address) (types.EligibilityResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return types.EligibilityResult{}, err
	}

	body, err := c.fetch(ctx, addr)
	if err != nil {
		return types.EligibilityResult{}, err
	}
	if isEmptyJSON(body) {
		return types.EligibilityResult{}, types.ErrIneligible
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return types.EligibilityResult{}, fmt.Errorf("%w: %v", types.ErrMalformedPayload, err)
	}
	return p.result()
}

func (c *Checker) fetch(ctx context.Context, addr common.Address) ([]byte, error) {
	params := url.Values{}
	params.Set("timestamp", strconv.FormatInt(c.clock.Now().Unix(), 10))
	endpoint := fmt.Sprintf("%s/%s.json?%s", c.baseURL, crypto.ChecksumAddress(addr), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", types.ErrNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		// the service answers unknown addresses with an empty document on some statuses
		if isEmptyJSON(body) && len(bytes.TrimSpace(body)) > 0 {
			return body, nil
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// isEmptyJSON matches the bodies the service uses for "no entry".
func isEmptyJSON(body []byte) bool {
	switch string(bytes.TrimSpace(body)) {
	case "", "null", "{}", "[]", "false", `""`:
		return true
	}
	return false
}

func (p payload) result() (types.EligibilityResult, error) {
	if p.Metadata == nil {
		return types.EligibilityResult{}, fmt.Errorf("%w: missing metadata", types.ErrMalformedPayload)
	}
	m := p.Metadata

	var (
		meta types.Metadata
		err  error
	)
	if meta.Deployer, err = parseAddressField("deployer", m.Deployer); err != nil {
		return types.EligibilityResult{}, err
	}
	if meta.FirstDeployedContract, err = parseAddressField("firstDeployedContract", m.FirstDeployedContract); err != nil {
		return types.EligibilityResult{}, err
	}
	if meta.BestDeployedContract, err = parseAddressField("bestDeployedContract", m.BestDeployedContract); err != nil {
		return types.EligibilityResult{}, err
	}
	if meta.RarityData, err = ParseHexInt(m.RarityData); err != nil {
		return types.EligibilityResult{}, fmt.Errorf("%w: rarityData: %v", types.ErrMalformedPayload, err)
	}

	proof := make([][32]byte, len(p.Proof))
	for i, h := range p.Proof {
		b := common.FromHex(h)
		if len(b) != 32 {
			return types.EligibilityResult{}, fmt.Errorf("%w: proof[%d] is %d bytes, want 32", types.ErrMalformedPayload, i, len(b))
		}
		copy(proof[i][:], b)
	}

	return types.EligibilityResult{
		Eligible: true,
		Rarity:   ClassifyRarity(m.RarityData),
		Metadata: meta,
		Proof:    proof,
	}, nil
}

func parseAddressField(name, v string) (common.Address, error) {
	if v == "" {
		return common.Address{}, fmt.Errorf("%w: missing %s", types.ErrMalformedPayload, name)
	}
	addr, err := crypto.ParseAddress(v)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %s: %v", types.ErrMalformedPayload, name, err)
	}
	return addr, nil
}

// ParseHexInt reads a 0x-prefixed (or bare) hexadecimal integer.
func ParseHexInt(s string) (*big.Int, error) {
	h := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if h == "" {
		return nil, fmt.Errorf("empty hex integer")
	}
	n, ok := new(big.Int).SetString(h, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex integer %q", s)
	}
	return n, nil
}

// ClassifyRarity maps rarityData to a tier by case-sensitive prefix. Any
// prefix other than the known Rare and Common ones is Legendary.
func ClassifyRarity(rarityData string) types.Rarity {
	if rarityData == "" {
		return types.RarityUnknown
	}
	switch {
	case strings.HasPrefix(rarityData, RarePrefix):
		return types.RarityRare
	case strings.HasPrefix(rarityData, CommonPrefix):
		return types.RarityCommon
	default:
		return types.RarityLegendary
	}
}
