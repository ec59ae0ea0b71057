package llm

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func NewOpenAI(apiKey, model string, maxTokens int) *OpenAI {
	return newOpenAIWithClient(openai.NewClient(apiKey), model, maxTokens)
}

// NewOpenAIWithBaseURL points the client at a compatible endpoint.
func NewOpenAIWithBaseURL(apiKey, baseURL, model string, maxTokens int) *OpenAI {
	conf := openai.DefaultConfig(apiKey)
	conf.BaseURL = baseURL
	return newOpenAIWithClient(openai.NewClientWithConfig(conf), model, maxTokens)
}

func newOpenAIWithClient(client *openai.Client, model string, maxTokens int) *OpenAI {
	if model == "" {
		model = openai.GPT4oMini
	}
	if maxTokens <= 0 {
		maxTokens = 500
	}
	return &OpenAI{client: client, model: model, maxTokens: maxTokens}
}

func (o *OpenAI) Complete(ctx context.Context, p Prompt) (string, error) {
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if p.Image != nil {
		user.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: p.User},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + p.Image.MediaType + ";base64," + p.Image.Base64,
					Detail: openai.ImageURLDetailAuto,
				},
			},
		}
	} else {
		user.Content = p.User
	}

	maxTokens := o.maxTokens
	if p.MaxTokens > 0 {
		maxTokens = p.MaxTokens
	}

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			user,
		},
		MaxTokens:   maxTokens,
		Temperature: 0.1,
	}
	if p.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
