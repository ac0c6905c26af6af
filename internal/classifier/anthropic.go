package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pbaille/codebook/internal/domain"
)

const (
	DefaultEndpoint  = "https://api.anthropic.com/v1/messages"
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 8192
	apiVersion       = "2023-06-01"
)

// HTTPDoer is the subset of *http.Client the classifier needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Classifier. Zero values fall back to the defaults.
type Options struct {
	APIKey    string
	Model     string
	Endpoint  string
	MaxTokens int
	Timeout   time.Duration
	HTTP      HTTPDoer
	Logger    *zap.Logger
}

// Classifier talks to the Anthropic Messages API
type Classifier struct {
	apiKey    string
	model     string
	endpoint  string
	maxTokens int
	http      HTTPDoer
	logger    *zap.Logger
}

// New creates a new Classifier
func New(opts Options) (*Classifier, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("new classifier: %w", domain.ErrClassifierDisabled)
	}

	c := &Classifier{
		apiKey:    opts.APIKey,
		model:     opts.Model,
		endpoint:  opts.Endpoint,
		maxTokens: opts.MaxTokens,
		http:      opts.HTTP,
		logger:    opts.Logger,
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.maxTokens <= 0 {
		c.maxTokens = DefaultMaxTokens
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// Classify asks the model to annotate every response and returns the raw
// JSON reply text.
func (c *Classifier) Classify(ctx context.Context, responses []string, categories []domain.Category) ([]byte, error) {
	if len(responses) == 0 {
		return nil, domain.ErrNoResponses
	}
	prompt, err := buildClassifyPrompt(responses, categories)
	if err != nil {
		return nil, err
	}

	text, err := c.callAPI(ctx, classifySystem, []apiMessage{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	return []byte(text), nil
}

// Report asks for a written summary of the coded results
func (c *Classifier) Report(ctx context.Context, results []domain.AnnotationResult) (string, error) {
	prompt := "Write a concise analytical report of these coded survey responses. " +
		"Cover the main themes with counts, the sentiment balance, and notable quotes.\n\n" +
		summarizeResults(results)

	text, err := c.callAPI(ctx, analystSystem, []apiMessage{{Role: "user", Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("api call: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Chat answers a question about the coded results, given the conversation so far
func (c *Classifier) Chat(ctx context.Context, history []domain.ChatMessage, message string, results []domain.AnnotationResult) (string, error) {
	messages := make([]apiMessage, 0, len(history)+2)
	messages = append(messages, apiMessage{
		Role:    "user",
		Content: "Here are the coded survey responses we will discuss:\n\n" + summarizeResults(results),
	}, apiMessage{
		Role:    "assistant",
		Content: "Understood. What would you like to know?",
	})
	for _, m := range history {
		messages = append(messages, apiMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, apiMessage{Role: "user", Content: message})

	text, err := c.callAPI(ctx, analystSystem, messages)
	if err != nil {
		return "", fmt.Errorf("api call: %w", err)
	}
	return strings.TrimSpace(text), nil
}

const classifySystem = "You are a qualitative research assistant who codes open-ended survey responses against a codebook."

const analystSystem = "You are a qualitative research analyst. Base every statement on the coded responses provided."

type promptCategory struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func buildClassifyPrompt(responses []string, categories []domain.Category) (string, error) {
	cats := make([]promptCategory, len(categories))
	for i, c := range categories {
		cats[i] = promptCategory(c)
	}
	catJSON, err := json.Marshal(cats)
	if err != nil {
		return "", fmt.Errorf("marshal categories: %w", err)
	}
	respJSON, err := json.Marshal(responses)
	if err != nil {
		return "", fmt.Errorf("marshal responses: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Classify each survey response into one category of the codebook. Return JSON only.\n\n")
	sb.WriteString("Codebook:\n")
	sb.Write(catJSON)
	sb.WriteString("\n\nResponses:\n")
	sb.Write(respJSON)
	sb.WriteString("\n\n")
	sb.WriteString(`Return a JSON object with this structure:
{
  "results": [
    {
      "originalResponse": "the response text, copied exactly",
      "categoryName": "Category",
      "sentiment": "Positive | Negative | Neutral",
      "confidenceScore": 0.9,
      "reasoning": "one sentence",
      "suggestedCategory": {"name": "New Category", "description": "what it covers"}
    }
  ]
}

Rules:
- Return exactly one result per response, in the same order
- Copy originalResponse verbatim
- Use a codebook category name when one fits
- Only when no category fits, set categoryName to a new name and include suggestedCategory with the same name and a description; otherwise omit suggestedCategory
- confidenceScore is 0.0-1.0

Return ONLY the JSON, no other text.`)

	return sb.String(), nil
}

// summarizeResults renders results as compact JSON lines for the model
func summarizeResults(results []domain.AnnotationResult) string {
	var sb strings.Builder
	for _, r := range results {
		line, err := json.Marshal(struct {
			Response   string  `json:"response"`
			Category   string  `json:"category"`
			Sentiment  string  `json:"sentiment"`
			Confidence float64 `json:"confidence"`
		}{r.Response(), r.CategoryName, string(r.Sentiment), r.Confidence})
		if err != nil {
			continue
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// APIError is a non-200 reply from the service
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}

var errEmptyResponse = errors.New("empty response")

func (c *Classifier) callAPI(ctx context.Context, system string, messages []apiMessage) (string, error) {
	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages:  messages,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("api call",
		zap.String("model", c.model),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		var apiResp apiResponse
		if json.Unmarshal(body, &apiResp) == nil && apiResp.Error != nil {
			msg = apiResp.Error.Message
		}
		return "", &APIError{Status: resp.StatusCode, Message: msg}
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if apiResp.Error != nil {
		return "", &APIError{Status: resp.StatusCode, Message: apiResp.Error.Message}
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errEmptyResponse
	}
	if apiResp.StopReason == "max_tokens" {
		c.logger.Warn("reply truncated at max_tokens", zap.Int("max_tokens", c.maxTokens))
	}
	return sb.String(), nil
}
