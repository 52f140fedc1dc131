package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/agent-api/core/pkg/agent"
	"github.com/agent-api/core/types"
	"github.com/agent-api/ollama"
)

// ollamaPort is the port the Ollama daemon listens on by default
const ollamaPort = 11434

const ollamaSystemPrompt = "You are a careful health assistant. You describe what you see or read, and you never give a medical diagnosis."

// Ollama serves text and image requests from a local Ollama vision model.
// Audio and video are not supported by the backend.
type Ollama struct {
	agent  *agent.DefaultAgent
	logger *slog.Logger
}

// NewOllama checks that Ollama is reachable and sets up an agent on model
func NewOllama(ctx context.Context, baseURL, model string, logger *slog.Logger) (*Ollama, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := pingOllama(ctx, fmt.Sprintf("%s:%d", baseURL, ollamaPort)); err != nil {
		return nil, fmt.Errorf("ollama not reachable: %w", err)
	}

	provider := ollama.NewProvider(&ollama.ProviderOpts{
		Logger:  logger,
		BaseURL: baseURL,
		Port:    ollamaPort,
	})
	provider.UseModel(ctx, &types.Model{
		ID: model,
	})

	a := agent.NewAgent(&agent.NewAgentConfig{
		Provider:     provider,
		Logger:       logger,
		SystemPrompt: ollamaSystemPrompt,
	})
	return &Ollama{agent: a, logger: logger}, nil
}

func pingOllama(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (o *Ollama) AskText(ctx context.Context, text string) (string, error) {
	response := o.agent.Run(ctx, agent.WithInput(text))
	if response.Err != nil {
		return "", fmt.Errorf("ask text: %w", response.Err)
	}
	if len(response.Messages) == 0 {
		return "", fmt.Errorf("ask text: %w", ErrEmptyResponse)
	}
	return o.reply("ask text", response.Messages[len(response.Messages)-1].Content), nil
}

func (o *Ollama) AnalyzeImage(ctx context.Context, p Payload, instruction string) (string, error) {
	p, err := p.validate(DefaultImageMIME)
	if err != nil {
		return "", fmt.Errorf("analyze image: %w", err)
	}

	// the agent only accepts images from disk
	f, err := os.CreateTemp("", "medai-image-*"+extensionFor(p.MIMEType))
	if err != nil {
		return "", fmt.Errorf("analyze image: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(p.Data); err != nil {
		f.Close()
		return "", fmt.Errorf("analyze image: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("analyze image: %w", err)
	}

	response := o.agent.Run(
		ctx,
		agent.WithInput(instruction),
		agent.WithImagePath(f.Name()),
	)
	if response.Err != nil {
		return "", fmt.Errorf("analyze image: %w", response.Err)
	}
	if len(response.Messages) == 0 {
		return "", fmt.Errorf("analyze image: %w", ErrEmptyResponse)
	}

	// last message is the model's reply, not the prompt
	return o.reply("analyze image", response.Messages[len(response.Messages)-1].Content), nil
}

func (o *Ollama) AnalyzeAudio(ctx context.Context, p Payload, instruction string) (string, error) {
	return "", fmt.Errorf("analyze audio: %w", ErrUnsupportedModality)
}

func (o *Ollama) AnalyzeVideo(ctx context.Context, p Payload, instruction string) (string, error) {
	return "", fmt.Errorf("analyze video: %w", ErrUnsupportedModality)
}

func (o *Ollama) reply(op, content string) string {
	o.logger.Debug("model response", "op", op, "chars", len(content))
	return content
}

func extensionFor(mimeType string) string {
	for ext, t := range extensionTypes {
		if t == mimeType && ext != ".jpeg" {
			return ext
		}
	}
	return ".img"
}
