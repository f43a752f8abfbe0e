package internal

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"ragingest/config"
	"ragingest/model"
	"ragingest/types"
)

const DefaultChunkSize = 800

// HeadingPattern matches markdown ATX headings of level 1..level.
func HeadingPattern(level int) string {
	if level < 1 || level > 6 {
		level = 6
	}
	return fmt.Sprintf(`^ {0,3}#{1,%d}(?:[ \t]|$)`, level)
}

// Chunker splits documents on headings and a size limit. It holds no state
// between calls.
type Chunker struct {
	maxSize int
	heading *regexp.Regexp
	counter model.Counter
	unit    string
}

type ChunkerOption func(*Chunker)

func WithHeading(re *regexp.Regexp) ChunkerOption {
	return func(c *Chunker) {
		if re != nil {
			c.heading = re
		}
	}
}

// WithCounter sets how chunk size is measured; unit names it in the settings
// signature.
func WithCounter(counter model.Counter, unit string) ChunkerOption {
	return func(c *Chunker) {
		if counter != nil {
			c.counter = counter
			c.unit = unit
		}
	}
}

func NewChunker(maxSize int, opts ...ChunkerOption) *Chunker {
	if maxSize <= 0 {
		maxSize = DefaultChunkSize
	}
	c := &Chunker{
		maxSize: maxSize,
		heading: regexp.MustCompile(HeadingPattern(6)),
		counter: model.CharCounter{},
		unit:    "chars",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Signature identifies the settings that shape the output.
func (c *Chunker) Signature() string {
	return fmt.Sprintf("max=%d;unit=%s;heading=%s", c.maxSize, c.unit, c.heading.String())
}

func (c *Chunker) MaxSize() int {
	return c.maxSize
}

func (c *Chunker) Count(text string) int {
	return c.counter.Count(text)
}

// Split returns the ordered chunk texts of doc. A chunk starts at every heading
// line outside fenced code and whenever the open chunk would exceed the
// maximum size. A heading always stays with the line that follows it, so a
// heading plus its first line may exceed the maximum. Empty input yields no
// chunks.
func (c *Chunker) Split(doc string) []string {
	doc = NormalizeText(doc)
	if strings.TrimSpace(doc) == "" {
		return nil
	}

	var (
		chunks  []string
		cur     []string
		curSize int
		hasBody bool
		inFence bool
	)

	flush := func() {
		if text := joinTrimmed(cur); text != "" {
			chunks = append(chunks, text)
		}
		cur = cur[:0]
		curSize = 0
		hasBody = false
	}

	add := func(piece string) {
		blank := strings.TrimSpace(piece) == ""
		size := c.counter.Count(piece)
		if len(cur) > 0 && hasBody && curSize+1+size > c.maxSize {
			flush()
		}
		if len(cur) == 0 && blank {
			return
		}
		if len(cur) > 0 {
			curSize++
		}
		cur = append(cur, piece)
		curSize += size
		if !blank {
			hasBody = true
		}
	}

	for _, line := range strings.Split(doc, "\n") {
		trimmed := strings.TrimSpace(line)
		fence := strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")

		if !inFence && !fence && c.heading.MatchString(line) {
			flush()
			cur = append(cur, line)
			curSize = c.counter.Count(line)
			continue
		}
		if fence {
			inFence = !inFence
		}

		if c.counter.Count(line) <= c.maxSize {
			add(line)
			continue
		}
		for _, piece := range c.splitLong(line) {
			add(piece)
		}
	}
	flush()
	return chunks
}

// splitLong breaks an oversized line between words, keeping the original
// spacing inside each piece. Words that are still too long are cut on rune
// boundaries.
func (c *Chunker) splitLong(line string) []string {
	var pieces []string
	start, end := 0, -1 // open piece is line[start:end], none while end < 0
	for _, w := range wordSpans(line) {
		if end >= 0 && c.counter.Count(line[start:w[1]]) <= c.maxSize {
			end = w[1]
			continue
		}
		if end >= 0 {
			pieces = append(pieces, line[start:end])
			start = w[0]
		}
		if c.counter.Count(line[start:w[1]]) <= c.maxSize {
			end = w[1]
			continue
		}
		parts := c.splitRunes(line[start:w[1]])
		pieces = append(pieces, parts[:len(parts)-1]...)
		last := parts[len(parts)-1]
		start, end = w[1]-len(last), w[1]
	}
	if end >= 0 {
		pieces = append(pieces, line[start:end])
	}
	return pieces
}

func (c *Chunker) splitRunes(s string) []string {
	var (
		parts []string
		part  []rune
	)
	for _, r := range s {
		if len(part) > 0 && c.counter.Count(string(append(part, r))) > c.maxSize {
			parts = append(parts, string(part))
			part = part[:0]
		}
		part = append(part, r)
	}
	return append(parts, string(part))
}

// wordSpans returns the [start, end) byte offsets of the non-space runs of s.
func wordSpans(s string) [][2]int {
	var (
		spans [][2]int
		start = -1
	)
	for i, r := range s {
		switch {
		case unicode.IsSpace(r) && start >= 0:
			spans = append(spans, [2]int{start, i})
			start = -1
		case !unicode.IsSpace(r) && start < 0:
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, [2]int{start, len(s)})
	}
	return spans
}

// joinTrimmed joins lines, dropping blank lines at either end only.
func joinTrimmed(lines []string) string {
	from, to := 0, len(lines)
	for from < to && strings.TrimSpace(lines[from]) == "" {
		from++
	}
	for to > from && strings.TrimSpace(lines[to-1]) == "" {
		to--
	}
	return strings.Join(lines[from:to], "\n")
}

// NormalizeText converts CRLF and CR line endings to LF and drops a UTF-8 BOM.
func NormalizeText(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// ChunkerFromConfig builds the chunker described by the chunking settings.
func ChunkerFromConfig(cfg config.ChunkingConfig) (*Chunker, error) {
	pattern := cfg.HeadingPattern
	if pattern == "" {
		pattern = HeadingPattern(cfg.HeadingLevel)
	}
	heading, err := regexp.Compile(pattern)
	if err != nil {
		return nil, types.Errorf(types.KindConfigurationError, "chunker", "heading pattern: %v", err)
	}
	counter, err := model.NewCounter(cfg.Unit, cfg.Encoding)
	if err != nil {
		return nil, err
	}
	unit := cfg.Unit
	if unit == "" {
		unit = "chars"
	}
	return NewChunker(cfg.MaxSize, WithHeading(heading), WithCounter(counter, unit)), nil
}
