package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"ragingest/types"
)

func TestFilteredScanSettings(t *testing.T) {
	tests := []struct {
		name      string
		k         int
		iterative bool
		want      []string
	}{
		{"small k keeps the default", 1, false, []string{"SET LOCAL hnsw.ef_search = 40"}},
		{"widened for k", 5, false, []string{"SET LOCAL hnsw.ef_search = 100"}},
		{"capped", 200, false, []string{"SET LOCAL hnsw.ef_search = 1000"}},
		{"iterative scan", 5, true, []string{
			"SET LOCAL hnsw.ef_search = 100",
			"SET LOCAL hnsw.iterative_scan = relaxed_order",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, filteredScanSettings(tt.k, tt.iterative))
		})
	}
}

func TestSupportsIterativeScan(t *testing.T) {
	for version, want := range map[string]bool{
		"0.8.0":  true,
		"0.8.1":  true,
		"0.10.0": true,
		"1.0":    true,
		"0.7.4":  false,
		"0.5.1":  false,
		"":       false,
		"dev":    false,
	} {
		assert.Equal(t, want, supportsIterativeScan(version), version)
	}
}

func TestIsUndefinedTable(t *testing.T) {
	missing := unavailable("store.Init", &pgconn.PgError{Code: "42P01", Message: `relation "rag_schema_version" does not exist`})
	assert.True(t, isUndefinedTable(missing))
	assert.True(t, isUndefinedTable(fmt.Errorf("describe: %w", missing)))

	denied := unavailable("store.Init", &pgconn.PgError{Code: "28P01", Message: "password authentication failed"})
	assert.False(t, isUndefinedTable(denied))
	assert.False(t, isUndefinedTable(errors.New("connection refused")))
	assert.False(t, isUndefinedTable(nil))
}

func TestCompatible_ReadSide(t *testing.T) {
	rec := indexRecord{Version: 1, Dimension: 768, Model: "nomic-embed-text", Metric: types.MetricCosine}

	assert.NoError(t, compatible("store.UseIndex", rec, types.IndexSpec{Model: "nomic-embed-text", Metric: types.MetricCosine}),
		"unknown dimension is not checked")

	err := compatible("store.UseIndex", rec, types.IndexSpec{Dimension: 768, Model: "mxbai-embed-large", Metric: types.MetricCosine})
	assert.ErrorIs(t, err, types.ErrConfiguration)
	assert.Contains(t, err.Error(), "store.UseIndex")

	err = compatible("store.UseIndex", rec, types.IndexSpec{Dimension: 768, Model: "nomic-embed-text", Metric: types.MetricInnerProduct})
	assert.ErrorIs(t, err, types.ErrConfiguration)
}
