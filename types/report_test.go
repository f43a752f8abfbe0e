package types

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportAdd(t *testing.T) {
	var r Report
	r.Add(FileResult{Path: "a.md", Inserted: 3})
	r.Add(FileResult{Path: "b.md", Skipped: true, Unchanged: 2})
	r.Add(FileResult{Path: "c.md", Updated: 1, Deleted: 2, Unchanged: 1})
	r.Add(FileResult{Path: "d.md", Err: Errorf(KindInvalidDocument, "read", "NUL byte")})

	assert.Equal(t, 4, r.FilesScanned)
	assert.Equal(t, 1, r.FilesSkipped)
	assert.Equal(t, 3, r.ChunksInserted)
	assert.Equal(t, 1, r.ChunksUpdated)
	assert.Equal(t, 3, r.ChunksUnchanged)
	assert.Equal(t, 2, r.ChunksDeleted)
	assert.Equal(t, 6, r.Writes())
	assert.Equal(t, 1, r.Errors())
	assert.False(t, r.Failed(), "invalid documents are warnings")

	r.Add(FileResult{Path: "e.md", Err: errors.New("tx aborted")})
	require.Len(t, r.Failures, 2)
	assert.Equal(t, KindStorageUnavailable, r.Failures[1].Kind)
	assert.True(t, r.Failed())
}

func TestReportPrint(t *testing.T) {
	r := Report{FilesScanned: 2, ChunksInserted: 4}
	r.Add(FileResult{Path: "z.md", Err: Errorf(KindProviderUnavailable, "embed", "timeout")})
	r.Add(FileResult{Path: "a.md", Err: Errorf(KindProviderError, "embed", "bad json")})

	var buf bytes.Buffer
	r.Print(&buf)
	out := buf.String()

	assert.Contains(t, out, "chunks inserted:  4")
	assert.Contains(t, out, "errors:           2")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("a.md")), bytes.Index(buf.Bytes(), []byte("z.md")))
	assert.Contains(t, out, "[ProviderUnavailable] z.md")
}
