package mcp

import (
	"context"

	"ragingest/types"
)

type mockQuerier struct {
	params  types.SearchParams
	results []types.SearchResult
	stats   []types.CollectionStat
	err     error
}

func (m *mockQuerier) Search(_ context.Context, params types.SearchParams) (*types.SearchResponse, error) {
	m.params = params
	if m.err != nil {
		return nil, m.err
	}
	return &types.SearchResponse{Question: params.Question, Results: m.results, Count: len(m.results)}, nil
}

func (m *mockQuerier) Collections(context.Context) ([]types.CollectionStat, error) {
	return m.stats, m.err
}
