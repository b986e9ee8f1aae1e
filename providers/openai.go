package providers

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mediadesk/mediadesk/fields"
)

// OpenAI is the text side of the house: it turns short briefs into rich
// generation prompts and topics into spoken avatar scripts through the
// chat-completions endpoint.
type OpenAI struct {
	Config *fields.Config
	Logger *logrus.Logger
	client *vendorClient
}

func NewOpenAI(cfg *fields.Config, logger *logrus.Logger) *OpenAI {
	return &OpenAI{
		Config: cfg,
		Logger: logger,
		client: newVendorClient("openai", logger),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

const promptSystem = "You write prompts for generative image and video models. " +
	"Expand the user's brief into one vivid, concrete prompt of at most 120 words. " +
	"Describe subject, composition, lighting and mood. Return only the prompt text."

const scriptSystem = "You write short spoken scripts for avatar presenter videos. " +
	"Write a natural, engaging monologue of at most 90 words on the user's topic, " +
	"no stage directions, no headings. Return only the words to be spoken."

// GeneratePrompt expands a brief into a generation-ready prompt.
func (o *OpenAI) GeneratePrompt(ctx context.Context, brief, style string) (string, error) {
	user := brief
	if style != "" {
		user += "\n\nRender it in this style: " + style
	}
	return o.complete(ctx, promptSystem, user, 300)
}

// GenerateScript writes the spoken script for an avatar video topic.
func (o *OpenAI) GenerateScript(ctx context.Context, topic string) (string, error) {
	return o.complete(ctx, scriptSystem, topic, 240)
}

func (o *OpenAI) complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	req := chatCompletionRequest{
		Model: o.Config.OpenAIModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: maxTokens,
	}
	var resp chatCompletionResponse
	url := strings.TrimSuffix(o.Config.OpenAIBaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + o.Config.OpenAIKey}
	if err := o.client.doJSON(ctx, "chat_completions", http.MethodPost, url, headers, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fatal("vendor returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
