package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenCounter counts tokens with a real BPE encoding. Used for prompt
// size accounting where the chars/4 estimate is too coarse.
type TiktokenCounter struct {
	model    string
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// modelEncodings maps known model prefixes to tiktoken encodings.
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// NewTiktokenCounter creates a counter for the given model, defaulting to
// cl100k_base for unknown models.
func NewTiktokenCounter(model string) *TiktokenCounter {
	encoding := "cl100k_base"
	if enc, ok := modelEncodings[model]; ok {
		encoding = enc
	} else {
		best := 0
		for prefix, enc := range modelEncodings {
			if len(prefix) > best && strings.HasPrefix(model, prefix) {
				encoding = enc
				best = len(prefix)
			}
		}
	}
	return &TiktokenCounter{model: model, encoding: encoding}
}

// init lazily initializes the encoding (may load data on first use).
func (t *TiktokenCounter) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens counts tokens in the text, falling back to the chars/4
// estimate when the encoding cannot be initialized.
func (t *TiktokenCounter) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return Estimate(text), nil
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

// Name identifies the counter.
func (t *TiktokenCounter) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
