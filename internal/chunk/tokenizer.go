package chunk

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const (
	DefaultModel    = "gpt-4"
	defaultEncoding = "cl100k_base"
)

// Tokenizer converts between text and token ids. Decode(Encode(s)) must
// reproduce s.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

var offlineBPE sync.Once

// TiktokenTokenizer is the reference tokenizer for the OpenAI model family.
type TiktokenTokenizer struct {
	encoding string
	tke      *tiktoken.Tiktoken
}

// NewTiktokenTokenizer accepts either an encoding name or a model name. Unknown
// models fall back to cl100k_base. BPE ranks come from the embedded offline
// loader, so no download happens at startup.
func NewTiktokenTokenizer(modelOrEncoding string) (*TiktokenTokenizer, error) {
	offlineBPE.Do(func() { tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader()) })
	name := strings.TrimSpace(modelOrEncoding)
	if name == "" {
		name = DefaultModel
	}
	if tke, err := tiktoken.GetEncoding(name); err == nil {
		return &TiktokenTokenizer{encoding: name, tke: tke}, nil
	}
	if tke, err := tiktoken.EncodingForModel(name); err == nil {
		return &TiktokenTokenizer{encoding: "model:" + name, tke: tke}, nil
	}
	tke, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", defaultEncoding, err)
	}
	return &TiktokenTokenizer{encoding: defaultEncoding, tke: tke}, nil
}

func (t *TiktokenTokenizer) Encoding() string { return t.encoding }

func (t *TiktokenTokenizer) Encode(text string) []int {
	return t.tke.Encode(text, nil, nil)
}

func (t *TiktokenTokenizer) Decode(tokens []int) string {
	return t.tke.Decode(tokens)
}
