package chunk

import "iter"

const DefaultMaxTokens = 3000

// Chunk is a contiguous token-bounded slice of the input. StartToken and
// EndToken index into the full encoding of the text, EndToken exclusive.
type Chunk struct {
	Index      int
	StartToken int
	EndToken   int
	Tokens     []int
	Text       string
}

func (c Chunk) TokenCount() int { return c.EndToken - c.StartToken }

type Chunker struct {
	tok       Tokenizer
	maxTokens int
}

func New(tok Tokenizer, maxTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Chunker{tok: tok, maxTokens: maxTokens}
}

func (c *Chunker) MaxTokens() int { return c.maxTokens }

func (c *Chunker) CountTokens(text string) int {
	return len(c.tok.Encode(text))
}

// Chunks yields the chunks of text in order. The sequence is lazy and can be
// ranged over any number of times with the same result.
func (c *Chunker) Chunks(text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		if text == "" {
			return
		}
		tokens := c.tok.Encode(text)
		buf := make([]int, 0, c.maxTokens)
		start, index := 0, 0
		emit := func(end int) bool {
			out := make([]int, len(buf))
			copy(out, buf)
			ch := Chunk{
				Index:      index,
				StartToken: start,
				EndToken:   end,
				Tokens:     out,
				Text:       c.tok.Decode(out),
			}
			index++
			start = end
			buf = buf[:0]
			return yield(ch)
		}
		for i, t := range tokens {
			if len(buf) == c.maxTokens {
				if !emit(i) {
					return
				}
			}
			buf = append(buf, t)
		}
		if len(buf) > 0 {
			emit(len(tokens))
		}
	}
}

// Split collects Chunks into a slice.
func (c *Chunker) Split(text string) []Chunk {
	var out []Chunk
	for ch := range c.Chunks(text) {
		out = append(out, ch)
	}
	return out
}
