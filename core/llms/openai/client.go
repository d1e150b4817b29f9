package openai

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-voice/core/llms"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultModel = "gpt-4o-mini"

type Client struct {
	client  *openai.Client
	options llms.ClientOptions

	responseFormat openai.ChatCompletionNewParamsResponseFormatUnion
}

func NewClient(opts ...llms.ClientOption) (*Client, error) {
	options := llms.NewClientOptions(defaultModel, opts...)
	if options.APIKey == "" {
		return nil, fmt.Errorf("openai api key not set")
	}

	requestOptions := []option.RequestOption{
		option.WithAPIKey(options.APIKey),
		option.WithHTTPClient(options.HTTPClient),
	}
	if options.BaseURL != "" {
		requestOptions = append(requestOptions, option.WithBaseURL(options.BaseURL))
	}
	client := openai.NewClient(requestOptions...)

	c := &Client{client: &client, options: options}
	if options.ResponseSchema != nil {
		schema, name := llms.ReflectSchema(options.ResponseSchema)
		c.responseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: schema,
					Strict: param.NewOpt(true),
				},
			},
		}
	}
	return c, nil
}

func (c *Client) Generate(ctx context.Context, history []llms.Message) (string, error) {
	ctx, span := tracer.Start(ctx, "prompt llm")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", c.options.Model))

	params := openai.ChatCompletionNewParams{
		Model:          c.options.Model,
		Messages:       toMessages(c.options.Instructions, history),
		ResponseFormat: c.responseFormat,
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		err = fmt.Errorf("openai chat: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("openai chat: response has no choices")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(
		attribute.String("response.finish_reason", string(resp.Choices[0].FinishReason)),
		attribute.Int64("response.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int64("response.completion_tokens", resp.Usage.CompletionTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

func toMessages(instructions string, history []llms.Message) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if instructions != "" {
		messages = append(messages, openai.SystemMessage(instructions))
	}
	for _, msg := range history {
		if msg.Content == "" {
			continue
		}
		switch msg.Role {
		case llms.MessageRoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case llms.MessageRoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case llms.MessageRoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}
	return messages
}
