package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"ragingest/types"
)

type SearchInput struct {
	Query      string            `json:"query" jsonschema:"natural-language question to find relevant documentation for"`
	Collection string            `json:"collection,omitempty" jsonschema:"restrict results to this collection"`
	Version    string            `json:"version,omitempty" jsonschema:"restrict results to this version label"`
	Product    string            `json:"product,omitempty" jsonschema:"restrict results to chunks tagged with this product"`
	Limit      int               `json:"limit,omitempty" jsonschema:"maximum number of results (default 5, max 20)"`
	Metadata   map[string]string `json:"metadata,omitempty" jsonschema:"other metadata key/value pairs every result must carry"`
}

type SearchOutput struct {
	Results []SearchResultOutput `json:"results"`
	Count   int                  `json:"count"`
}

type SearchResultOutput struct {
	Content    string  `json:"content"`
	Path       string  `json:"path"`
	Collection string  `json:"collection"`
	Version    string  `json:"version"`
	Position   int     `json:"position"`
	Score      float64 `json:"score"`
	Source     string  `json:"source,omitempty"`
}

type ListCollectionsInput struct{}

type ListCollectionsOutput struct {
	Collections []types.CollectionStat `json:"collections"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_documents",
		Description: "Find the documentation chunks most relevant to a question, nearest first",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_collections",
		Description: "List indexed collections with their versions and chunk counts",
	}, s.handleListCollections)
}

func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	params := types.SearchParams{
		Question: input.Query,
		Version:  input.Version,
		K:        input.Limit,
	}
	if input.Collection != "" {
		params.Collections = []string{input.Collection}
	}
	if len(input.Metadata) > 0 || input.Product != "" {
		params.Metadata = make(map[string]string, len(input.Metadata)+1)
		for k, v := range input.Metadata {
			params.Metadata[k] = v
		}
		if input.Product != "" {
			params.Metadata["product"] = input.Product
		}
	}

	resp, err := s.querier.Search(ctx, params)
	if err != nil {
		s.logger.Error("search_documents failed", "error", err)
		return nil, SearchOutput{}, err
	}

	output := SearchOutput{
		Results: make([]SearchResultOutput, len(resp.Results)),
		Count:   len(resp.Results),
	}
	for i, r := range resp.Results {
		output.Results[i] = SearchResultOutput{
			Content:    r.Content,
			Path:       r.Path,
			Collection: r.Collection,
			Version:    r.Version,
			Position:   r.Position,
			Score:      r.Score,
			Source:     r.Metadata["source"],
		}
	}
	return nil, output, nil
}

func (s *Server) handleListCollections(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ ListCollectionsInput,
) (*mcp.CallToolResult, ListCollectionsOutput, error) {
	stats, err := s.querier.Collections(ctx)
	if err != nil {
		return nil, ListCollectionsOutput{}, err
	}
	return nil, ListCollectionsOutput{Collections: stats}, nil
}
