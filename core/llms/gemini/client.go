package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/koscakluka/ema-voice/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

const defaultModel = "gemini-2.0-flash"

type Client struct {
	client  *genai.Client
	options llms.ClientOptions
}

func NewClient(ctx context.Context, opts ...llms.ClientOption) (*Client, error) {
	options := llms.NewClientOptions(defaultModel, opts...)
	if options.APIKey == "" {
		return nil, fmt.Errorf("gemini api key not set")
	}

	config := &genai.ClientConfig{
		APIKey:     options.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: options.HTTPClient,
	}
	if options.BaseURL != "" {
		config.HTTPOptions.BaseURL = options.BaseURL
	}
	client, err := genai.NewClient(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}

	return &Client{client: client, options: options}, nil
}

func (c *Client) Generate(ctx context.Context, history []llms.Message) (string, error) {
	ctx, span := tracer.Start(ctx, "prompt llm")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", c.options.Model))

	contents, system := toContents(c.options.Instructions, history)
	config := &genai.GenerateContentConfig{SystemInstruction: system}
	if c.options.ResponseSchema != nil {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.options.Model, contents, config)
	if err != nil {
		err = fmt.Errorf("genai generate: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		err := fmt.Errorf("genai generate: empty response")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return sb.String(), nil
}

// toContents maps the history onto user and model turns. System messages
// join the instructions since Gemini only takes them out of band.
func toContents(instructions string, history []llms.Message) ([]*genai.Content, *genai.Content) {
	var systemParts []*genai.Part
	if instructions != "" {
		systemParts = append(systemParts, &genai.Part{Text: instructions})
	}

	var contents []*genai.Content
	for _, msg := range history {
		if msg.Content == "" {
			continue
		}
		switch msg.Role {
		case llms.MessageRoleSystem:
			systemParts = append(systemParts, &genai.Part{Text: msg.Content})
		case llms.MessageRoleUser:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: msg.Content}}})
		case llms.MessageRoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: msg.Content}}})
		}
	}

	var system *genai.Content
	if len(systemParts) > 0 {
		system = &genai.Content{Parts: systemParts}
	}
	return contents, system
}
