package chunk

// Chunk size defaults, in token-equivalents. One token is approximated
// as 4 characters, which tracks real tokenizer output closely enough
// for budgeting prose.
const (
	DefaultMaxTokens    = 800
	DefaultMinTokens    = 300
	DefaultOverlapRatio = 0.15
	CharsPerToken       = 4
)

// Chunk is a retrievable span of a document. Offsets are byte positions
// into the original text, so consecutive chunks produced from one split
// section overlap by roughly OverlapRatio of the chunk size.
type Chunk struct {
	Text        string
	StartChar   int
	EndChar     int
	HeadingPath string // "Title > Section", empty outside any heading
	TokenCount  int
}

// Options configures a Chunker. Zero values take the defaults above.
type Options struct {
	MaxTokens    int
	MinTokens    int
	OverlapRatio float64
}

func (o Options) withDefaults() Options {
	if o.MaxTokens == 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.MinTokens == 0 {
		o.MinTokens = DefaultMinTokens
	}
	if o.OverlapRatio == 0 {
		o.OverlapRatio = DefaultOverlapRatio
	}
	return o
}

// estimateTokens approximates the token count of s.
func estimateTokens(s string) int {
	return (len(s) + CharsPerToken - 1) / CharsPerToken
}
