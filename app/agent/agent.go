// Package agent turns retrieved chunks into a short answer through the Ollama
// generate API.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ragingest/model"
	"ragingest/types"
)

const summaryInstruction = "Provide a concise, readable executive summary of the following documents (retain key details, ignore links and headers)."

const systemPrompt = `You are a documentation assistant. Use only the documents you are given.
If they do not cover the question, say so in one sentence.
Don't add introductions like 'Of course!' or 'Here's the answer:'.`

const docSeparator = "\n\n---\n\n"

type GenerateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type GenerateRequest struct {
	Model   string          `json:"model"`
	System  string          `json:"system"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options GenerateOptions `json:"options"`
}

type GenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Summarizer asks an LLM for an executive summary of search results.
type Summarizer struct {
	url         string
	model       string
	client      *http.Client
	logger      *slog.Logger
	counter     model.Counter
	budget      int
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

type Option func(*Summarizer)

func WithLogger(l *slog.Logger) Option {
	return func(s *Summarizer) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Summarizer) {
		if c != nil {
			s.client = c
		}
	}
}

// WithCounter sets how prompt size is measured against the budget.
func WithCounter(c model.Counter) Option {
	return func(s *Summarizer) {
		if c != nil {
			s.counter = c
		}
	}
}

// WithPromptBudget caps the prompt, system text included, in counter units.
// The first document is always sent.
func WithPromptBudget(n int) Option {
	return func(s *Summarizer) {
		if n > 0 {
			s.budget = n
		}
	}
}

func WithTemperature(t float64) Option {
	return func(s *Summarizer) {
		s.temperature = t
	}
}

func WithMaxTokens(n int) Option {
	return func(s *Summarizer) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(s *Summarizer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New returns a Summarizer posting to url, the full /api/generate endpoint.
func New(url, modelName string, opts ...Option) *Summarizer {
	s := &Summarizer{
		url:         url,
		model:       modelName,
		client:      http.DefaultClient,
		logger:      slog.Default(),
		counter:     model.CharCounter{},
		budget:      3000,
		temperature: 0.3,
		maxTokens:   500,
		timeout:     120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "agent")
	return s
}

// BuildPrompt joins docs into the summary prompt, dropping trailing documents
// once the budget is spent. It returns the prompt and how many documents it
// holds.
func (s *Summarizer) BuildPrompt(question string, docs []string) (string, int) {
	head := summaryInstruction + "\n"
	if question != "" {
		head += "Question: " + question + "\n"
	}
	head += "Documents:\n"
	const tail = "\nSummary:"

	used := s.counter.Count(systemPrompt) + s.counter.Count(head) + s.counter.Count(tail)
	var b strings.Builder
	b.WriteString(head)
	n := 0
	for i, doc := range docs {
		cost := s.counter.Count(doc)
		if i > 0 {
			cost += s.counter.Count(docSeparator)
			if used+cost > s.budget {
				break
			}
			b.WriteString(docSeparator)
		}
		b.WriteString(doc)
		used += cost
		n++
	}
	b.WriteString(tail)
	return b.String(), n
}

// Summarize returns the model's summary of docs with respect to question.
func (s *Summarizer) Summarize(ctx context.Context, question string, docs []string) (string, error) {
	const op = "agent.Summarize"
	if len(docs) == 0 {
		return "", types.Errorf(types.KindInvalidRequest, op, "nothing to summarize")
	}

	start := time.Now()
	prompt, included := s.BuildPrompt(question, docs)
	if included < len(docs) {
		s.logger.Debug("prompt budget reached", "documents", len(docs), "included", included, "budget", s.budget)
	}

	reqBody, err := json.Marshal(GenerateRequest{
		Model:  s.model,
		System: systemPrompt,
		Prompt: prompt,
		Options: GenerateOptions{
			Temperature: s.temperature,
			NumPredict:  s.maxTokens,
		},
	})
	if err != nil {
		return "", types.NewError(types.KindProviderError, op, fmt.Errorf("failed to marshal request: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", types.NewError(types.KindConfigurationError, op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", types.NewError(types.KindProviderUnavailable, op, fmt.Errorf("failed to make request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", types.NewError(types.KindProviderUnavailable, op, fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		kind := types.KindProviderError
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = types.KindProviderUnavailable
		}
		return "", types.Errorf(kind, op, "LLM API error: status %d, body: %s", resp.StatusCode, truncate(string(body), 200))
	}

	answer, err := parseGenerate(body)
	if err != nil {
		return "", types.NewError(types.KindProviderError, op, err)
	}

	s.logger.Info("summary generated",
		"model", s.model,
		"documents", included,
		"prompt_size", s.counter.Count(systemPrompt)+s.counter.Count(prompt),
		"duration", time.Since(start))
	return answer, nil
}

// parseGenerate accepts a single response object or an NDJSON stream of them.
func parseGenerate(body []byte) (string, error) {
	var single GenerateResponse
	if err := json.Unmarshal(body, &single); err == nil {
		if single.Response == "" {
			return "", errors.New("empty response")
		}
		return single.Response, nil
	}

	var out strings.Builder
	dec := json.NewDecoder(bytes.NewReader(body))
	for dec.More() {
		var chunk GenerateResponse
		if err := dec.Decode(&chunk); err != nil {
			return "", fmt.Errorf("failed to decode stream: %w", err)
		}
		out.WriteString(chunk.Response)
	}
	if out.Len() == 0 {
		return "", errors.New("empty response")
	}
	return out.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
