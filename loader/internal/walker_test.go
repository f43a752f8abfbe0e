package internal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragingest/types"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestWalker_Walk(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.md", "b")
	writeFile(t, root, "a.txt", "a")
	writeFile(t, root, "guide/install.MD", "x")
	writeFile(t, root, "guide/image.png", "x")
	writeFile(t, root, ".git/HEAD.md", "x")
	writeFile(t, root, "node_modules/pkg/readme.md", "x")
	writeFile(t, root, "drafts/wip.md", "x")

	w := NewWalker([]string{".md", "txt"}, []string{"**/.git/**", "**/node_modules/**", "drafts/**"})
	files, err := w.Walk(root)
	require.NoError(t, err)

	var rels []string
	for _, f := range files {
		rels = append(rels, f.RelPath)
		assert.True(t, filepath.IsAbs(f.Path))
		assert.False(t, f.ModTime.IsZero())
	}
	assert.Equal(t, []string{"a.txt", "b.md", "guide/install.MD"}, rels)
}

func TestWalker_BadRoot(t *testing.T) {
	w := NewWalker([]string{".md"}, nil)

	_, err := w.Walk(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, types.ErrConfiguration)

	file := writeFile(t, t.TempDir(), "f.md", "x")
	_, err = w.Walk(file)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestReadDocument(t *testing.T) {
	dir := t.TempDir()

	data, err := ReadDocument(writeFile(t, dir, "ok.md", "# Hi\nthere"))
	require.NoError(t, err)
	assert.Equal(t, "# Hi\nthere", string(data))

	_, err = ReadDocument(writeFile(t, dir, "nul.md", "a\x00b"))
	assert.ErrorIs(t, err, types.ErrInvalidDocument)

	_, err = ReadDocument(writeFile(t, dir, "latin1.md", "caf\xe9"))
	assert.ErrorIs(t, err, types.ErrInvalidDocument)

	_, err = ReadDocument(filepath.Join(dir, "gone.md"))
	assert.ErrorIs(t, err, types.ErrInvalidDocument)
}

func TestCollectionRule(t *testing.T) {
	fixed, err := NewCollectionRule(RuleFixed, "docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", fixed("guide/a.md"))
	assert.Equal(t, "docs", fixed("a.md"))

	top, err := NewCollectionRule(RuleTopFolder, "docs")
	require.NoError(t, err)
	assert.Equal(t, "guide", top("guide/sub/a.md"))
	assert.Equal(t, "docs", top("a.md"), "root files fall back to the given collection")

	_, err = NewCollectionRule("by-date", "docs")
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestMetadata(t *testing.T) {
	assert.Equal(t, map[string]string{"source": "a.md", "path": "guide/a.md", "product": "guide"}, Metadata("guide/a.md"))
	assert.Equal(t, map[string]string{"source": "a.md", "path": "a.md"}, Metadata("a.md"))
}
