// Package assistant answers free-text questions with an OpenAI chat model,
// optionally grounded on Bing web search results.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	NotConfiguredText = "⚠️ The AI assistant is not configured (API key missing)."
	ApologyText       = "⚠️ Sorry, something went wrong. Please try again later."

	DefaultOpenAIURL = "https://api.openai.com/v1/chat/completions"
	DefaultBingURL   = "https://api.bing.microsoft.com/v7.0/search"

	maxSearchResults = 3
)

const systemPrompt = `You are Nexus AI, an intelligent assistant for the Nexus Media platform.
Provide accurate, helpful and complete answers.
When search results are provided, use them and cite the sources you used.
Be concise but thorough. Use lists where they make the text easier to read.`

// searchTriggers are words that suggest the question needs fresh facts.
var searchTriggers = []string{
	"kim", "nima", "qachon", "qayerda", "narxi", "ob-havo", "yangiliklar",
	"who", "what", "when", "where", "price", "weather", "news",
}

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Config struct {
	OpenAIKey string
	Model     string
	OpenAIURL string
	BingKey   string
	BingURL   string
	Timeout   time.Duration
}

type Agent struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Agent {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.OpenAIURL == "" {
		cfg.OpenAIURL = DefaultOpenAIURL
	}
	if cfg.BingURL == "" {
		cfg.BingURL = DefaultBingURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Agent{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, log: log}
}

// Answer never fails: errors degrade to ApologyText.
func (a *Agent) Answer(ctx context.Context, query string, history []Turn) string {
	if a.cfg.OpenAIKey == "" {
		return NotConfiguredText
	}

	messages := make([]Turn, 0, len(history)+2)
	messages = append(messages, Turn{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)

	userMessage := query
	if a.cfg.BingKey != "" && NeedsSearch(query) {
		pages, err := a.search(ctx, query)
		if err != nil {
			a.log.Warn("web search failed", zap.Error(err))
		} else if len(pages) > 0 {
			userMessage += searchContext(pages)
		}
	}
	messages = append(messages, Turn{Role: "user", Content: userMessage})

	answer, err := a.complete(ctx, messages)
	if err != nil {
		a.log.Error("assistant completion failed", zap.Error(err))
		return ApologyText
	}
	return answer
}

// NeedsSearch is a keyword heuristic for questions about current facts.
func NeedsSearch(query string) bool {
	q := strings.ToLower(query)
	for _, k := range searchTriggers {
		if strings.Contains(q, k) {
			return true
		}
	}
	return false
}

type chatRequest struct {
	Model       string  `json:"model"`
	Messages    []Turn  `json:"messages"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (a *Agent) complete(ctx context.Context, messages []Turn) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       a.cfg.Model,
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   1000,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.OpenAIURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.OpenAIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("empty completion")
	}
	return content, nil
}

type WebPage struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type searchResponse struct {
	WebPages struct {
		Value []WebPage `json:"value"`
	} `json:"webPages"`
}

func (a *Agent) search(ctx context.Context, query string) ([]WebPage, error) {
	u, err := url.Parse(a.cfg.BingURL)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("count", "5")
	params.Set("offset", "0")
	params.Set("mkt", "en-US")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", a.cfg.BingKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bing status %d", resp.StatusCode)
	}
	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search: %w", err)
	}
	pages := out.WebPages.Value
	if len(pages) > maxSearchResults {
		pages = pages[:maxSearchResults]
	}
	return pages, nil
}

func searchContext(pages []WebPage) string {
	var b strings.Builder
	b.WriteString("\n\nSearch Results:\n")
	for i, p := range pages {
		fmt.Fprintf(&b, "[%d] %s: %s\nSource: %s\n", i+1, p.Name, p.Snippet, p.URL)
	}
	return b.String()
}
