package types

import (
	"fmt"
	"io"
	"sort"
	"time"
)

// FileResult is the outcome of ingesting one document.
type FileResult struct {
	Path      string
	Skipped   bool // whole-document fingerprint matched
	Inserted  int
	Updated   int
	Unchanged int
	Deleted   int
	Err       error
}

type Failure struct {
	Path string
	Kind ErrorKind
	Err  error
}

type Report struct {
	FilesScanned    int
	FilesSkipped    int
	FilesPruned     int
	ChunksInserted  int
	ChunksUpdated   int
	ChunksUnchanged int
	ChunksDeleted   int
	Failures        []Failure
	Duration        time.Duration
}

func (r *Report) Add(res FileResult) {
	r.FilesScanned++
	if res.Err != nil {
		kind := KindOf(res.Err)
		if kind == "" {
			kind = KindStorageUnavailable
		}
		r.Failures = append(r.Failures, Failure{Path: res.Path, Kind: kind, Err: res.Err})
		return
	}
	if res.Skipped {
		r.FilesSkipped++
	}
	r.ChunksInserted += res.Inserted
	r.ChunksUpdated += res.Updated
	r.ChunksUnchanged += res.Unchanged
	r.ChunksDeleted += res.Deleted
}

// Writes is the number of chunk rows touched.
func (r *Report) Writes() int {
	return r.ChunksInserted + r.ChunksUpdated + r.ChunksDeleted
}

func (r *Report) Errors() int {
	return len(r.Failures)
}

// Failed reports whether any document failed for a reason other than being
// unreadable; invalid documents are warnings.
func (r *Report) Failed() bool {
	for _, f := range r.Failures {
		if f.Kind != KindInvalidDocument {
			return true
		}
	}
	return false
}

func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "files scanned:    %d (skipped unchanged: %d, pruned: %d)\n", r.FilesScanned, r.FilesSkipped, r.FilesPruned)
	fmt.Fprintf(w, "chunks inserted:  %d\n", r.ChunksInserted)
	fmt.Fprintf(w, "chunks updated:   %d\n", r.ChunksUpdated)
	fmt.Fprintf(w, "chunks unchanged: %d\n", r.ChunksUnchanged)
	fmt.Fprintf(w, "chunks deleted:   %d\n", r.ChunksDeleted)
	fmt.Fprintf(w, "errors:           %d\n", r.Errors())
	if r.Duration > 0 {
		fmt.Fprintf(w, "took:             %s\n", r.Duration.Round(time.Millisecond))
	}
	if len(r.Failures) == 0 {
		return
	}
	failures := append([]Failure(nil), r.Failures...)
	sort.Slice(failures, func(i, j int) bool { return failures[i].Path < failures[j].Path })
	fmt.Fprintln(w, "failed documents:")
	for _, f := range failures {
		fmt.Fprintf(w, "  [%s] %s: %v\n", f.Kind, f.Path, f.Err)
	}
}
