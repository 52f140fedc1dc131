package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Default MIME types used when a payload's type cannot be detected
const (
	DefaultImageMIME = "image/png"
	DefaultAudioMIME = "audio/wav"
	DefaultVideoMIME = "video/mp4"
)

var (
	ErrEmptyPayload        = errors.New("gateway: empty payload")
	ErrEmptyResponse       = errors.New("gateway: no response content")
	ErrUnsupportedModality = errors.New("gateway: modality not supported by backend")
)

// Client is the single boundary to the hosted generative model. Every call
// blocks until the service answers and returns its text verbatim.
type Client interface {
	AskText(ctx context.Context, text string) (string, error)
	AnalyzeImage(ctx context.Context, p Payload, instruction string) (string, error)
	AnalyzeAudio(ctx context.Context, p Payload, instruction string) (string, error)
	AnalyzeVideo(ctx context.Context, p Payload, instruction string) (string, error)
}

// Payload is a binary attachment sent alongside an instruction
type Payload struct {
	Data     []byte
	MIMEType string
}

var extensionTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
}

// PayloadFromFile reads path and detects its MIME type from the extension,
// using fallback when the extension is unknown.
func PayloadFromFile(path, fallback string) (Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Payload{}, fmt.Errorf("read payload: %w", err)
	}
	if len(data) == 0 {
		return Payload{}, fmt.Errorf("%w: %s", ErrEmptyPayload, path)
	}
	return Payload{Data: data, MIMEType: mimeFor(path, fallback)}, nil
}

func mimeFor(path, fallback string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
	}
	return fallback
}

// DataURL renders the payload as a base64 data URL
func (p Payload) DataURL() string {
	return "data:" + p.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

func (p Payload) validate(fallback string) (Payload, error) {
	if len(p.Data) == 0 {
		return p, ErrEmptyPayload
	}
	if p.MIMEType == "" {
		p.MIMEType = fallback
	}
	return p, nil
}
