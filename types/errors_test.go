package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsKind(t *testing.T) {
	err := fmt.Errorf("ingest: %w", Errorf(KindProviderUnavailable, "embed", "dial tcp: connection refused"))

	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.NotErrorIs(t, err, ErrProviderError)
	assert.NotErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, KindProviderUnavailable, KindOf(err))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindInvalidDocument, Op: "read", Path: "docs/a.md", Err: errors.New("invalid UTF-8")}
	assert.Equal(t, "read: InvalidDocument (docs/a.md): invalid UTF-8", err.Error())
	assert.Equal(t, "ConfigurationError", (&Error{Kind: KindConfigurationError}).Error())
}

func TestWithPath(t *testing.T) {
	assert.NoError(t, WithPath(nil, KindStorageUnavailable, "a.md"))

	orig := Errorf(KindProviderError, "embed", "bad length")
	got := WithPath(orig, KindStorageUnavailable, "a.md")
	var e *Error
	assert.True(t, errors.As(got, &e))
	assert.Equal(t, KindProviderError, e.Kind)
	assert.Equal(t, "a.md", e.Path)
	assert.Empty(t, orig.Path, "original must not be mutated")

	plain := WithPath(errors.New("boom"), KindStorageUnavailable, "b.md")
	assert.ErrorIs(t, plain, ErrStorageUnavailable)
}

func TestDocumentKeyID(t *testing.T) {
	a := DocumentKey{Path: "/docs/a.md", Collection: "docs", Version: "v1"}
	b := a
	b.Version = "v2"

	assert.Equal(t, a.ID(), a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestChangeSetEmpty(t *testing.T) {
	assert.True(t, ChangeSet{DeleteFrom: -1}.Empty())
	assert.False(t, ChangeSet{DeleteFrom: 0}.Empty())
	assert.False(t, ChangeSet{DeleteFrom: -1, Inserts: []Chunk{{}}}.Empty())
}
