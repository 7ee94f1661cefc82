// Package tokencount counts BPE tokens for accounting and quota enforcement.
//
// It uses tiktoken-go, a Go port of OpenAI's tiktoken library, loaded offline via
// tiktoken-go-loader so no network fetch happens at runtime.
package tokencount

import (
	"encoding/json"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const encodingName = "cl100k_base"

// Per-message overhead accounting, as specified for OpenAI-compatible chat payloads:
// https://github.com/openai/openai-cookbook/blob/main/examples/How_to_count_tokens_with_tiktoken.ipynb
const (
	tokensPerMessage = 3
	tokensPerRole    = 1
	tokensPriming    = 3
)

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Counter is a thread-safe cl100k_base token counter satisfying domain.TokenMeter.
type Counter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// New creates a Counter.
func New() *Counter {
	return &Counter{}
}

func (c *Counter) encoding() (*tiktoken.Tiktoken, error) {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding(encodingName)
	})
	return c.enc, c.err
}

// Count returns the number of cl100k_base tokens in text. On encoder failure it
// falls back to a rough 4-chars-per-token estimate rather than failing the caller.
func (c *Counter) Count(text string) int {
	enc, err := c.encoding()
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// CountMessages counts tokens for a JSON array of {role, content} chat messages,
// including the per-message and per-role overhead OpenAI-compatible APIs charge,
// plus the fixed reply-priming cost. Content that is not a string (for example
// an array of parts) contributes no tokens.
func (c *Counter) CountMessages(messages json.RawMessage) int {
	var msgs []chatMessage
	if err := json.Unmarshal(messages, &msgs); err != nil {
		return 0
	}

	enc, err := c.encoding()
	if err != nil {
		total := 0
		for _, m := range msgs {
			content, _ := m.Content.(string)
			total += (len(m.Role) + len(content)) / 4
		}
		return total
	}

	total := tokensPriming
	for _, m := range msgs {
		total += tokensPerMessage
		total += len(enc.Encode(m.Role, nil, nil))
		total += tokensPerRole
		content, _ := m.Content.(string)
		total += len(enc.Encode(content, nil, nil))
	}
	return total
}
