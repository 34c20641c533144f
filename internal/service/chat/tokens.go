package chat

import (
	"log"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures text in model tokens for budget accounting.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// heuristicCounter approximates tokens at four characters apiece. Used only
// when no tiktoken encoding can be loaded.
type heuristicCounter struct{}

func (heuristicCounter) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// NewTokenCounter returns a counter for the given model, falling back to the
// cl100k_base encoding and then to a character heuristic.
func NewTokenCounter(model string) TokenCounter {
	if model != "" {
		if enc, err := tiktoken.EncodingForModel(model); err == nil {
			return &tiktokenCounter{enc: enc}
		}
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Printf("tiktoken unavailable, using heuristic token counter: %v", err)
		return heuristicCounter{}
	}
	return &tiktokenCounter{enc: enc}
}
