package service

import (
	"context"
	"hash/fnv"
	"io"
	"log/slog"
	"strings"
	"sync"

	"ragingest/model"
	"ragingest/types"
)

// fakeEmbedder returns deterministic 4-dimensional vectors derived from the
// text and counts the texts it was asked to embed. Dimension checks always
// succeed and are counted apart.
type fakeEmbedder struct {
	mu             sync.Mutex
	calls          int
	dimensionCalls int
	embedded       []string

	// failOn makes any batch containing this substring fail with failErr.
	failOn  string
	failErr error
	// flaky fails the first n calls with ProviderUnavailable.
	flaky int
}

func (f *fakeEmbedder) Model() string { return "fake-embed" }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(texts) == 1 && texts[0] == model.ProbeText {
		f.dimensionCalls++
		return [][]float32{vectorFor(texts[0])}, nil
	}
	f.calls++
	if f.flaky > 0 {
		f.flaky--
		return nil, types.Errorf(types.KindProviderUnavailable, "fake.Embed", "connection refused")
	}
	for _, t := range texts {
		if f.failOn != "" && strings.Contains(t, f.failOn) {
			return nil, f.failErr
		}
	}
	f.embedded = append(f.embedded, texts...)

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vectorFor(t)
	}
	return out, nil
}

func (f *fakeEmbedder) embeddedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.embedded)
}

func vectorFor(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	sum := h.Sum32()
	return []float32{
		1,
		float32(sum&0xff) / 255,
		float32((sum>>8)&0xff) / 255,
		float32((sum>>16)&0xff) / 255,
	}
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
