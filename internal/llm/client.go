// Package llm calls an OpenAI-compatible chat completion endpoint for
// topic extraction and topic similarity comparison.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/feedlens/feedlens/internal/logging"
	"github.com/feedlens/feedlens/pkg/feedlens"
	"github.com/feedlens/feedlens/pkg/feedlens/consolidate"
	"github.com/feedlens/feedlens/pkg/feedlens/taxonomy"
)

// Client calls an OpenAI-compatible chat completion endpoint. It satisfies
// both the feedlens.Extractor and consolidate.Oracle interfaces.
type Client struct {
	BaseURL string
	APIKey  string
	Model   string

	// MaxRetries bounds retry attempts on transient failures. Zero means
	// no retries.
	MaxRetries int

	HTTPClient *http.Client

	limiter *rate.Limiter
}

// NewClient builds a client with request rate limiting. ratePerSec <= 0
// disables the limiter.
func NewClient(baseURL, apiKey, model string, ratePerSec float64, maxRetries int, timeout time.Duration) *Client {
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		Model:      model,
		MaxRetries: maxRetries,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if ratePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return c
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
	Temperature    float64        `json:"temperature"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

const extractSystem = `You analyze app store reviews. Extract the distinct topics the reviewer raises.
Respond with JSON: {"topics": [{"text": "...", "category": "issue|request|feedback"}], "sentiment": "positive|negative|neutral"}.
Keep each topic a short noun phrase. Extract nothing from reviews with no concrete content.`

type extractPayload struct {
	Topics []struct {
		Text     string `json:"text"`
		Category string `json:"category"`
	} `json:"topics"`
	Sentiment string `json:"sentiment"`
	Reasoning string `json:"reasoning"`
}

// Extract pulls raw topics out of one review.
func (c *Client) Extract(ctx context.Context, review feedlens.Review) (feedlens.Extraction, error) {
	user := fmt.Sprintf("Rating: %d/5\nReview: %s", review.Rating, review.Text)

	raw, err := c.chat(ctx, extractSystem, user)
	if err != nil {
		return feedlens.Extraction{}, fmt.Errorf("extract review %s: %w", review.ID, err)
	}

	var payload extractPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return feedlens.Extraction{}, fmt.Errorf("extract review %s: decode %q: %w", review.ID, raw, err)
	}

	ext := feedlens.Extraction{Sentiment: payload.Sentiment, Reasoning: payload.Reasoning}
	for _, t := range payload.Topics {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		cat := taxonomy.Category(t.Category)
		switch cat {
		case taxonomy.CategoryIssue, taxonomy.CategoryRequest, taxonomy.CategoryFeedback:
		default:
			cat = taxonomy.CategoryFeedback
		}
		ext.Topics = append(ext.Topics, feedlens.ExtractedTopic{Text: t.Text, Category: cat})
	}
	return ext, nil
}

const compareSystem = `You judge whether two app review topics describe the same underlying concept.
Respond with JSON: {"match": true|false, "confidence": 0.0-1.0}.
"Delivery guy rude" and "Delivery partner impolite" match; "App crashes" and "App is slow" do not.`

type comparePayload struct {
	Match      bool    `json:"match"`
	Confidence float64 `json:"confidence"`
}

// Compare asks the model whether text and a canonical topic are the same
// concept. The canonical topic's variants are included as context.
func (c *Client) Compare(ctx context.Context, text string, against taxonomy.Topic) (consolidate.Verdict, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic A: %s\nTopic B: %s\n", text, against.CanonicalName)
	if len(against.Variants) > 1 {
		fmt.Fprintf(&b, "Known phrasings of B: %s\n", strings.Join(against.Variants, "; "))
	}

	raw, err := c.chat(ctx, compareSystem, b.String())
	if err != nil {
		return consolidate.Verdict{}, fmt.Errorf("compare %q vs %q: %w", text, against.CanonicalName, err)
	}

	var payload comparePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return consolidate.Verdict{}, fmt.Errorf("compare %q: decode %q: %w", text, raw, err)
	}
	return consolidate.Verdict{Match: payload.Match, Confidence: payload.Confidence}, nil
}

func (c *Client) chat(ctx context.Context, system, user string) (string, error) {
	if c.BaseURL == "" || c.Model == "" {
		return "", fmt.Errorf("llm: base URL and model required")
	}

	messages := []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			logging.Debug("llm retry", "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}

		payload, err := c.send(ctx, messages)
		if err != nil {
			lastErr = err
			continue
		}
		if len(payload.Choices) == 0 {
			lastErr = fmt.Errorf("llm: empty response")
			continue
		}
		return payload.Choices[0].Message.Content, nil
	}
	return "", lastErr
}

func (c *Client) send(ctx context.Context, messages []chatMessage) (*chatResponse, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model:          c.Model,
		Messages:       messages,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	if payload.Error != nil {
		return nil, fmt.Errorf("llm error: %s", payload.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm: status %d", resp.StatusCode)
	}
	return &payload, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}
