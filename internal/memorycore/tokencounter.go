package memorycore

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates the token cost of strings and message batches.
// The zero-value-friendly DefaultTokenCounter is grounded on
// pkg/types.EstimateTokens's CharsPerToken heuristic, generalized from
// truncating to ceiling division so a non-empty string never estimates
// to zero tokens.
type TokenCounter interface {
	CountString(s string) int
	CountMessages(msgs []*Message) int
}

// CharsPerToken is the heuristic chars-per-token ratio used by
// DefaultTokenCounter, matching pkg/types.CharsPerToken.
const CharsPerToken = 4

// DefaultTokenCounter implements TokenCounter as ceil(len(s)/4), the
// spec's required default.
type DefaultTokenCounter struct{}

// CountString estimates the token cost of s.
func (DefaultTokenCounter) CountString(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + CharsPerToken - 1) / CharsPerToken
}

// CountMessages sums the token estimate of every message's raw content.
func (c DefaultTokenCounter) CountMessages(msgs []*Message) int {
	total := 0
	for _, m := range msgs {
		total += c.CountString(m.RawContent)
	}
	return total
}

// TiktokenCounter is an optional, more accurate counter backed by
// pkoukk/tiktoken-go, which callers that want real-tokenizer accuracy
// construct directly instead of the default character heuristic; no
// config option selects it.
type TiktokenCounter struct {
	encoding string

	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter returns a TiktokenCounter using the named encoding
// (e.g. "cl100k_base"). The underlying encoder is loaded lazily on first
// use so constructing one never fails at wiring time.
func NewTiktokenCounter(encoding string) *TiktokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenCounter{encoding: encoding}
}

func (c *TiktokenCounter) encoder() (*tiktoken.Tiktoken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enc != nil {
		return c.enc, nil
	}
	enc, err := tiktoken.GetEncoding(c.encoding)
	if err != nil {
		return nil, err
	}
	c.enc = enc
	return enc, nil
}

// CountString returns the tiktoken token count for s, falling back to the
// default heuristic if the encoder could not be loaded (e.g. no network
// access to fetch the BPE ranks on first use).
func (c *TiktokenCounter) CountString(s string) int {
	enc, err := c.encoder()
	if err != nil {
		return DefaultTokenCounter{}.CountString(s)
	}
	return len(enc.Encode(s, nil, nil))
}

// CountMessages sums the tiktoken token estimate of every message.
func (c *TiktokenCounter) CountMessages(msgs []*Message) int {
	total := 0
	for _, m := range msgs {
		total += c.CountString(m.RawContent)
	}
	return total
}
