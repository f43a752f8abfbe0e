package internal

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragingest/config"
	"ragingest/types"
)

func TestSplit_Headings(t *testing.T) {
	c := NewChunker(800)

	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{"single section", "# Intro\nhello", []string{"# Intro\nhello"}},
		{"two sections", "# Intro\nhi\n# Outro\nbye", []string{"# Intro\nhi", "# Outro\nbye"}},
		{"preamble before heading", "preface\n\n## A\nbody", []string{"preface", "## A\nbody"}},
		{"heading only", "# Title", []string{"# Title"}},
		{"empty", "", nil},
		{"whitespace", " \n\t\n", nil},
		{"hash without space is text", "#tag\nline", []string{"#tag\nline"}},
		{"deep heading", "text\n###### Deep\nmore", []string{"text", "###### Deep\nmore"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Split(tt.doc))
		})
	}
}

func TestSplit_HeadingLevel(t *testing.T) {
	c := NewChunker(800, WithHeading(regexp.MustCompile(HeadingPattern(1))))
	got := c.Split("# A\none\n## B\ntwo\n# C\nthree")
	assert.Equal(t, []string{"# A\none\n## B\ntwo", "# C\nthree"}, got)
}

func TestSplit_CodeFence(t *testing.T) {
	c := NewChunker(800)
	doc := "# Setup\n```sh\n# not a heading\necho hi\n```\n# Next\nx"
	got := c.Split(doc)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "# not a heading")
	assert.Equal(t, "# Next\nx", got[1])
}

func TestSplit_SizeBound(t *testing.T) {
	c := NewChunker(50)
	var lines []string
	for range 40 {
		lines = append(lines, "lorem ipsum dolor sit")
	}
	doc := strings.Join(lines, "\n")

	got := c.Split(doc)
	require.Greater(t, len(got), 1)
	for _, chunk := range got {
		assert.LessOrEqual(t, c.Count(chunk), 50)
	}
	assert.Equal(t, strings.Count(doc, "lorem"), strings.Count(strings.Join(got, "\n"), "lorem"), "no text is lost")
}

func TestSplit_OversizedLine(t *testing.T) {
	c := NewChunker(10)
	got := c.Split("aaaa bbbb cccc " + strings.Repeat("z", 25))
	for _, chunk := range got {
		assert.LessOrEqual(t, c.Count(chunk), 10)
	}
	assert.Equal(t, []string{"aaaa bbbb", "cccc", "zzzzzzzzzz", "zzzzzzzzzz", "zzzzz"}, got)
}

func TestSplit_KeepsSpacing(t *testing.T) {
	tests := []struct {
		name string
		max  int
		doc  string
		want []string
	}{
		{
			"indentation after a size flush",
			12,
			"aaaaaaaaaa\n    code()\n    more()",
			[]string{"aaaaaaaaaa", "    code()", "    more()"},
		},
		{
			"runs of spaces and tabs in a long line",
			20,
			"# H\nfoo   bar\tbaz qux quux corge",
			[]string{"# H\nfoo   bar\tbaz qux", "quux corge"},
		},
		{
			"indented long line",
			13,
			"  alpha  beta gamma",
			[]string{"  alpha  beta", "gamma"},
		},
		{
			"blank edges dropped",
			800,
			"\n\n  indented\n\n",
			[]string{"  indented"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewChunker(tt.max).Split(tt.doc))
		})
	}
}

func TestSplit_HeadingStaysWithFirstLine(t *testing.T) {
	c := NewChunker(10)
	got := c.Split("# Heading\nabcdefgh")
	require.NotEmpty(t, got)
	assert.Equal(t, "# Heading\nabcdefgh", got[0])
}

func TestSplit_Deterministic(t *testing.T) {
	c := NewChunker(30)
	doc := "# A\nalpha beta gamma delta\nepsilon zeta eta theta\n# B\niota kappa"
	first := c.Split(doc)
	for range 5 {
		assert.Equal(t, first, c.Split(doc))
	}
}

func TestSplit_LineEndings(t *testing.T) {
	c := NewChunker(800)
	unix := c.Split("# Intro\nhi\n# Outro\nbye")
	assert.Equal(t, unix, c.Split("\ufeff# Intro\r\nhi\r\n# Outro\r\nbye\r\n"))
}

func TestChunker_Signature(t *testing.T) {
	a := NewChunker(800).Signature()
	assert.Equal(t, a, NewChunker(800).Signature())
	assert.NotEqual(t, a, NewChunker(400).Signature())
	assert.NotEqual(t, a, NewChunker(800, WithHeading(regexp.MustCompile(HeadingPattern(2)))).Signature())
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Fingerprint(nil))
	assert.Equal(t, FingerprintString("a"), Fingerprint([]byte("a")))
	assert.NotEqual(t, FingerprintString("a"), FingerprintString("b"))

	assert.Equal(t, DocumentFingerprint([]byte("x"), "s1"), DocumentFingerprint([]byte("x"), "s1"))
	assert.NotEqual(t, DocumentFingerprint([]byte("x"), "s1"), DocumentFingerprint([]byte("x"), "s2"))
}

func TestChunkerFromConfig(t *testing.T) {
	cfg := config.Default().Chunking
	cfg.HeadingLevel = 1

	c, err := ChunkerFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"# A\n## sub\nx", "# B\ny"}, c.Split("# A\n## sub\nx\n# B\ny"))

	cfg.HeadingPattern = `^(`
	_, err = ChunkerFromConfig(cfg)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}
