// Package chunk splits documents into retrieval-sized, structure-aware
// pieces. Heading boundaries are preferred, then paragraph breaks, then
// sentence ends; a hard cut happens only when a single block exceeds the
// chunk budget.
package chunk

import (
	"regexp"
	"strings"
)

var (
	headingPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

	// Matches closed fenced code blocks. Fences are atomic: a chunk
	// boundary inside one would produce unreadable passages.
	fencePattern = regexp.MustCompile("(?s)```.*?```")
)

// splitSeparators are boundary candidates in preference order, searched
// backwards from the chunk budget.
var splitSeparators = []string{"\n\n", "\n", ". ", "? ", "! ", "。", "？", "！", " "}

// Chunker splits document text into chunks. It is stateless and safe
// for concurrent use.
type Chunker struct {
	opts Options
}

// NewChunker creates a chunker with default options.
func NewChunker() *Chunker {
	return NewChunkerWithOptions(Options{})
}

// NewChunkerWithOptions creates a chunker with custom options.
func NewChunkerWithOptions(opts Options) *Chunker {
	return &Chunker{opts: opts.withDefaults()}
}

// section is a heading-delimited span of the document.
type section struct {
	level int // 0 for content before any heading
	path  string
	start int
	end   int
}

// Split chunks text. Chunks are returned in document order. A chunk
// never spans a top-level heading boundary; sections under the same
// top-level heading are packed together up to the chunk budget, and
// oversized sections are split at paragraph or sentence boundaries with
// overlap carried between consecutive pieces.
func (c *Chunker) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	sections := parseSections(text)

	var chunks []Chunk
	var division []section
	for _, sec := range sections {
		if sec.level == 1 && len(division) > 0 {
			chunks = append(chunks, c.packDivision(text, division)...)
			division = division[:0]
		}
		division = append(division, sec)
	}
	if len(division) > 0 {
		chunks = append(chunks, c.packDivision(text, division)...)
	}
	return chunks
}

// parseSections delimits text at headings and tracks the heading
// hierarchy so every section carries its full path.
func parseSections(text string) []section {
	matches := headingPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return []section{{level: 0, path: "", start: 0, end: len(text)}}
	}

	var sections []section
	if matches[0][0] > 0 {
		sections = append(sections, section{start: 0, end: matches[0][0]})
	}

	var headerStack [6]string
	for i, m := range matches {
		level := m[3] - m[2]
		title := strings.TrimSpace(text[m[4]:m[5]])

		headerStack[level-1] = title
		for j := level; j < 6; j++ {
			headerStack[j] = ""
		}
		var parts []string
		for j := 0; j < level; j++ {
			if headerStack[j] != "" {
				parts = append(parts, headerStack[j])
			}
		}

		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		sections = append(sections, section{
			level: level,
			path:  strings.Join(parts, " > "),
			start: m[0],
			end:   end,
		})
	}
	return sections
}

// packDivision greedily accumulates adjacent sections into chunks up to
// the budget. Sections above the budget are split individually.
func (c *Chunker) packDivision(text string, division []section) []Chunk {
	maxChars := c.opts.MaxTokens * CharsPerToken

	var chunks []Chunk
	packStart, packEnd := -1, -1
	packPath := ""

	flush := func() {
		if packStart >= 0 {
			if ch, ok := makeChunk(text, packStart, packEnd, packPath); ok {
				chunks = append(chunks, ch)
			}
			packStart, packEnd = -1, -1
		}
	}

	for _, sec := range division {
		if sec.end-sec.start > maxChars {
			flush()
			chunks = append(chunks, c.splitSpan(text, sec.start, sec.end, sec.path)...)
			continue
		}
		if packStart >= 0 && sec.end-packStart > maxChars {
			flush()
		}
		if packStart < 0 {
			packStart = sec.start
			packPath = sec.path
		}
		packEnd = sec.end
	}
	flush()
	return chunks
}

// splitSpan cuts text[start:end] into budget-sized chunks at the best
// available boundary, backing each successive chunk up by the overlap
// so context is shared across the cut.
func (c *Chunker) splitSpan(text string, start, end int, path string) []Chunk {
	maxChars := c.opts.MaxTokens * CharsPerToken
	overlapChars := int(c.opts.OverlapRatio * float64(maxChars))
	fences := fenceSpans(text, start, end)

	var chunks []Chunk
	pos := start
	for {
		if end-pos <= maxChars {
			if ch, ok := makeChunk(text, pos, end, path); ok {
				chunks = append(chunks, ch)
			}
			return chunks
		}

		cut := c.findSplitPoint(text, pos, pos+maxChars, fences)
		if ch, ok := makeChunk(text, pos, cut, path); ok {
			chunks = append(chunks, ch)
		}

		next := cut - overlapChars
		if next <= pos {
			next = cut
		}
		// Snap the overlap start forward to a whitespace boundary so a
		// chunk never begins mid-word.
		for next < cut && !isSpaceByte(text[next]) {
			next++
		}
		for next < end && isSpaceByte(text[next]) {
			next++
		}
		if next <= pos {
			next = cut
		}
		pos = next
	}
}

// findSplitPoint picks a cut position in (pos, limit], preferring
// paragraph breaks, then sentence ends, then any space. Candidates
// inside code fences or before the minimum chunk size are rejected;
// when nothing qualifies the cut is a hard one at the budget.
func (c *Chunker) findSplitPoint(text string, pos, limit int, fences [][2]int) int {
	floor := c.opts.MinTokens * CharsPerToken
	if floor > (limit-pos)/2 {
		floor = (limit - pos) / 2
	}

	window := text[pos:limit]
	for _, sep := range splitSeparators {
		i := strings.LastIndex(window, sep)
		for i >= 0 {
			cut := pos + i + len(sep)
			if i >= floor && !insideFence(cut, fences) {
				return cut
			}
			i = strings.LastIndex(window[:i], sep)
		}
	}

	if f, ok := enclosingFence(limit, fences); ok {
		// Budget lands inside a fence. Cut before the fence when that
		// leaves a viable chunk, otherwise swallow the whole fence.
		if f[0]-pos >= floor {
			return f[0]
		}
		return f[1]
	}
	return limit
}

// fenceSpans returns absolute [start, end) spans of closed code fences
// within text[start:end].
func fenceSpans(text string, start, end int) [][2]int {
	var spans [][2]int
	for _, m := range fencePattern.FindAllStringIndex(text[start:end], -1) {
		spans = append(spans, [2]int{start + m[0], start + m[1]})
	}
	return spans
}

func insideFence(pos int, fences [][2]int) bool {
	for _, f := range fences {
		if pos > f[0] && pos < f[1] {
			return true
		}
	}
	return false
}

func enclosingFence(pos int, fences [][2]int) ([2]int, bool) {
	for _, f := range fences {
		if pos > f[0] && pos < f[1] {
			return f, true
		}
	}
	return [2]int{}, false
}

// makeChunk trims surrounding whitespace while keeping offsets aligned
// with the original text, so Text == text[StartChar:EndChar] always
// holds.
func makeChunk(text string, start, end int, path string) (Chunk, bool) {
	for start < end && isSpaceByte(text[start]) {
		start++
	}
	for end > start && isSpaceByte(text[end-1]) {
		end--
	}
	if start >= end {
		return Chunk{}, false
	}
	piece := text[start:end]
	return Chunk{
		Text:        piece,
		StartChar:   start,
		EndChar:     end,
		HeadingPath: path,
		TokenCount:  estimateTokens(piece),
	}, true
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
