package llms

import (
	"net/http"
	"reflect"

	"github.com/invopop/jsonschema"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type ClientOptions struct {
	APIKey  string
	Model   string
	BaseURL string

	// Instructions are sent as the system prompt ahead of the history.
	Instructions string
	// ResponseSchema, when set, is a value whose type describes the JSON
	// document the backend has to answer with.
	ResponseSchema any

	HTTPClient *http.Client
}

type ClientOption func(*ClientOptions)

func NewClientOptions(defaultModel string, opts ...ClientOption) ClientOptions {
	options := ClientOptions{Model: defaultModel}
	for _, opt := range opts {
		opt(&options)
	}
	if options.HTTPClient == nil {
		options.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return options
}

func WithAPIKey(apiKey string) ClientOption {
	return func(o *ClientOptions) { o.APIKey = apiKey }
}

func WithModel(model string) ClientOption {
	return func(o *ClientOptions) {
		if model != "" {
			o.Model = model
		}
	}
}

func WithBaseURL(baseURL string) ClientOption {
	return func(o *ClientOptions) { o.BaseURL = baseURL }
}

// WithInstructions sets the system prompt.
// Repeating this option will overwrite the previous system prompt.
func WithInstructions(instructions string) ClientOption {
	return func(o *ClientOptions) { o.Instructions = instructions }
}

func WithResponseSchema(schema any) ClientOption {
	return func(o *ClientOptions) { o.ResponseSchema = schema }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(o *ClientOptions) { o.HTTPClient = client }
}

// ReflectSchema builds an inline JSON schema for the type of v, pointers
// are dereferenced. The returned name is the Go type name.
func ReflectSchema(v any) (*jsonschema.Schema, string) {
	// TODO: Implement a custom reflector that only satisfies the subset of
	// jsonschema used by the providers
	reflector := jsonschema.Reflector{DoNotReference: true}
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return reflector.ReflectFromType(t), t.Name()
}
