package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/koscakluka/ema-voice/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultBaseURL = "https://api.groq.com/openai/v1"
	defaultModel   = "llama-3.3-70b-versatile"
)

// Client generates replies through the Groq chat completions endpoint. When
// a response schema is configured the request asks for strict json_schema
// output.
type Client struct {
	options llms.ClientOptions

	schema     *jsonschema.Schema
	schemaName string
}

func NewClient(opts ...llms.ClientOption) (*Client, error) {
	options := llms.NewClientOptions(defaultModel, opts...)
	if options.APIKey == "" {
		return nil, fmt.Errorf("groq api key not set")
	}
	if options.BaseURL == "" {
		options.BaseURL = defaultBaseURL
	}

	client := &Client{options: options}
	if options.ResponseSchema != nil {
		client.schema, client.schemaName = llms.ReflectSchema(options.ResponseSchema)
	}
	return client, nil
}

func (c *Client) Generate(ctx context.Context, history []llms.Message) (string, error) {
	ctx, span := tracer.Start(ctx, "prompt llm structured")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", c.options.Model))

	reqBody := schemaRequestBody{
		Model:    c.options.Model,
		Messages: toMessages(c.options.Instructions, history),
	}
	if c.schema != nil {
		reqBody.ResponseFormat = &ChatResponseFormat{
			Type: "json_schema",
			JSONSchema: &JSONSchema{
				Name:   c.schemaName,
				Schema: *c.schema,
				Strict: true,
			},
		}
		schemaString, _ := c.schema.MarshalJSON()
		span.SetAttributes(attribute.String("request.schema", string(schemaString)))
	}

	requestBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", recordError(span, fmt.Errorf("error marshalling JSON: %w", err))
	}

	endpoint := strings.TrimSuffix(c.options.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		return "", recordError(span, fmt.Errorf("error creating HTTP request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.options.APIKey)

	span.SetAttributes(attribute.String("request.url", req.URL.String()))
	resp, err := c.options.HTTPClient.Do(req)
	if err != nil {
		return "", recordError(span, fmt.Errorf("error sending request: %w", err))
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		if errorBody, err := io.ReadAll(resp.Body); err != nil {
			logger.Warn("error reading error body", "error", err)
		} else {
			span.SetAttributes(attribute.String("response.error", string(errorBody)))
		}
		return "", recordError(span, fmt.Errorf("non-OK HTTP status: %s", resp.Status))
	}

	var responseBody schemaResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&responseBody); err != nil {
		return "", recordError(span, fmt.Errorf("error unmarshalling response: %w", err))
	}
	if len(responseBody.Choices) == 0 {
		return "", recordError(span, fmt.Errorf("response has no choices"))
	}

	content := responseBody.Choices[0].Message.Content
	// Some models wrap JSON in a markdown fence even in json mode.
	if split := strings.Split(content, "```"); len(split) > 2 {
		content = strings.TrimPrefix(split[1], "json")
	}
	if responseBody.Usage != nil {
		span.SetAttributes(
			attribute.Int("response.prompt_tokens", responseBody.Usage.PromptTokens),
			attribute.Int("response.completion_tokens", responseBody.Usage.CompletionTokens),
		)
	}

	return strings.TrimSpace(content), nil
}

func recordError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

type schemaRequestBody struct {
	Model          string              `json:"model"`
	Messages       []message           `json:"messages"`
	ResponseFormat *ChatResponseFormat `json:"response_format,omitempty"`
}

type ChatResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

type JSONSchema struct {
	// Name is used to further identify the schema in the response.
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Schema      jsonschema.Schema `json:"schema"`
	// Strict determines whether to enforce the schema upon the
	// generated content.
	Strict bool `json:"strict"`
}

type schemaResponseBody struct {
	Choices []struct {
		Message struct {
			Role         string  `json:"role,omitempty"`
			Content      string  `json:"content,omitempty"`
			FinishReason *string `json:"finish_reason,omitempty"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int     `json:"prompt_tokens"`
		CompletionTokens int     `json:"completion_tokens"`
		TotalTokens      int     `json:"total_tokens"`
		TotalTime        float64 `json:"total_time"`
	} `json:"usage"`
}
