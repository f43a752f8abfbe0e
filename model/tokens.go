package model

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"ragingest/types"
)

// Counter measures text size for chunking.
type Counter interface {
	Count(text string) int
}

// CharCounter counts runes.
type CharCounter struct{}

func (CharCounter) Count(text string) int {
	return utf8.RuneCountInString(text)
}

// TokenCounter counts BPE tokens with a tiktoken encoding.
type TokenCounter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTokenCounter loads the named encoding, e.g. cl100k_base. Loading may
// download the BPE ranks on first use.
func NewTokenCounter(encoding string) (*TokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, types.Errorf(types.KindConfigurationError, "model.NewTokenCounter", "encoding %q: %v", encoding, err)
	}
	return &TokenCounter{enc: enc}, nil
}

func (c *TokenCounter) Count(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}

// NewCounter returns the counter for unit "chars" or "tokens".
func NewCounter(unit, encoding string) (Counter, error) {
	switch unit {
	case "", "chars":
		return CharCounter{}, nil
	case "tokens":
		return NewTokenCounter(encoding)
	default:
		return nil, types.Errorf(types.KindConfigurationError, "model.NewCounter", "unknown size unit %q", unit)
	}
}
