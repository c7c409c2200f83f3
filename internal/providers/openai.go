package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const OpenAIName = "openai"

// OpenAIConfig holds configuration for the OpenAI-compatible client.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // Optional, for OpenAI-compatible endpoints
	DefaultModel string
	Timeout      time.Duration
	MaxRetries   int
}

// OpenAIClient implements LLMClient against the OpenAI API (or any
// OpenAI-compatible endpoint when BaseURL is set).
type OpenAIClient struct {
	client       openai.Client
	defaultModel string
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		client:       openai.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
	}
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	if req.ResponseFormat != nil {
		rf, err := convertOpenAIResponseFormat(req.ResponseFormat)
		if err != nil {
			return nil, err
		}
		params.ResponseFormat = rf
	}

	result := &ChatResult{
		RequestID: requestID,
		Provider:  OpenAIName,
		Attempts:  1,
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		result.Success = false
		result.ErrorType = "http_error"
		result.ErrorMessage = err.Error()
		result.ExecutionTime = time.Since(start)
		return result, fmt.Errorf("openai chat completion failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		result.Success = false
		result.ErrorType = "empty_response"
		result.ErrorMessage = "no choices in response"
		result.ExecutionTime = time.Since(start)
		return result, fmt.Errorf("no choices in response")
	}

	content := completion.Choices[0].Message.Content

	result.Success = true
	result.Content = content
	result.ModelUsed = completion.Model
	result.PromptTokens = int(completion.Usage.PromptTokens)
	result.CompletionTokens = int(completion.Usage.CompletionTokens)
	result.TotalTokens = int(completion.Usage.TotalTokens)
	result.ExecutionTime = time.Since(start)

	if req.ResponseFormat != nil && content != "" {
		parsed, perr := parseStructuredResponse(content, req.ResponseFormat.JSONSchema)
		if perr == nil {
			result.ParsedJSON = parsed
		} else {
			result.Success = false
			result.ErrorType = "json_parse"
			result.ErrorMessage = fmt.Sprintf("structured response rejected: %v", perr)
		}
	}

	return result, nil
}

func convertOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			if len(m.Images) == 0 {
				out = append(out, openai.UserMessage(m.Content))
				continue
			}
			parts := []openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(m.Content),
			}
			for _, img := range m.Images {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img),
				}))
			}
			out = append(out, openai.UserMessage(parts))
		}
	}
	return out
}

// convertOpenAIResponseFormat unpacks the wrapped schema
// ({"name","strict","schema":{...}}) into the SDK's schema param.
func convertOpenAIResponseFormat(rf *ResponseFormat) (openai.ChatCompletionNewParamsResponseFormatUnion, error) {
	var union openai.ChatCompletionNewParamsResponseFormatUnion

	if len(rf.JSONSchema) == 0 {
		union.OfJSONObject = &openai.ResponseFormatJSONObjectParam{}
		return union, nil
	}

	var wrapper struct {
		Name   string          `json:"name"`
		Strict *bool           `json:"strict"`
		Schema json.RawMessage `json:"schema"`
	}
	if err := json.Unmarshal(rf.JSONSchema, &wrapper); err != nil {
		return union, fmt.Errorf("invalid response format schema: %w", err)
	}

	var schemaDoc any
	raw := wrapper.Schema
	if len(raw) == 0 {
		raw = rf.JSONSchema
	}
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		return union, fmt.Errorf("invalid response format schema: %w", err)
	}

	name := wrapper.Name
	if name == "" {
		name = "response"
	}

	schema := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:   name,
		Schema: schemaDoc,
	}
	if wrapper.Strict != nil {
		schema.Strict = openai.Bool(*wrapper.Strict)
	}

	union.OfJSONSchema = &openai.ResponseFormatJSONSchemaParam{
		JSONSchema: schema,
	}
	return union, nil
}

// Verify interface
var _ LLMClient = (*OpenAIClient)(nil)
