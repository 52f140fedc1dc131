package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI talks to any OpenAI-compatible Chat Completions endpoint. The
// default deployment points it at Gemini's compatibility API.
type OpenAI struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAI builds a client for the given endpoint. Requests are never retried.
func NewOpenAI(apiKey, baseURL, model string, logger *slog.Logger) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
		logger: logger,
	}
}

func (o *OpenAI) AskText(ctx context.Context, text string) (string, error) {
	return o.complete(ctx, "ask text", openai.UserMessage(text))
}

func (o *OpenAI) AnalyzeImage(ctx context.Context, p Payload, instruction string) (string, error) {
	p, err := p.validate(DefaultImageMIME)
	if err != nil {
		return "", fmt.Errorf("analyze image: %w", err)
	}
	part := openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
		URL: p.DataURL(),
	})
	return o.complete(ctx, "analyze image", withInstruction(part, instruction))
}

func (o *OpenAI) AnalyzeAudio(ctx context.Context, p Payload, instruction string) (string, error) {
	p, err := p.validate(DefaultAudioMIME)
	if err != nil {
		return "", fmt.Errorf("analyze audio: %w", err)
	}
	format, ok := audioFormat(p.MIMEType)
	if !ok {
		// input_audio only takes wav and mp3; other encodings such as m4a
		// go as a file part carrying their real MIME type
		part := openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
			FileData: openai.String(p.DataURL()),
		})
		return o.complete(ctx, "analyze audio", withInstruction(part, instruction))
	}
	part := openai.InputAudioContentPart(openai.ChatCompletionContentPartInputAudioInputAudioParam{
		Data:   base64.StdEncoding.EncodeToString(p.Data),
		Format: format,
	})
	return o.complete(ctx, "analyze audio", withInstruction(part, instruction))
}

func (o *OpenAI) AnalyzeVideo(ctx context.Context, p Payload, instruction string) (string, error) {
	p, err := p.validate(DefaultVideoMIME)
	if err != nil {
		return "", fmt.Errorf("analyze video: %w", err)
	}
	part := openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
		FileData: openai.String(p.DataURL()),
	})
	return o.complete(ctx, "analyze video", withInstruction(part, instruction))
}

// withInstruction places the attachment before the instruction text
func withInstruction(part openai.ChatCompletionContentPartUnionParam, instruction string) openai.ChatCompletionMessageParamUnion {
	return openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
		part,
		openai.TextContentPart(instruction),
	})
}

func (o *OpenAI) complete(ctx context.Context, op string, msg openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{msg},
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: %w", op, ErrEmptyResponse)
	}

	content := resp.Choices[0].Message.Content
	o.logger.Debug("model response", "op", op, "model", o.model, "chars", len(content))
	return content, nil
}

// audioFormat maps a MIME type onto the input_audio format names. It
// reports false for encodings input_audio cannot carry.
func audioFormat(mimeType string) (string, bool) {
	switch {
	case strings.Contains(mimeType, "mpeg"), strings.Contains(mimeType, "mp3"):
		return "mp3", true
	case strings.Contains(mimeType, "wav"):
		return "wav", true
	default:
		return "", false
	}
}
