package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

type capturedRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url"`
	InputAudio struct {
		Data   string `json:"data"`
		Format string `json:"format"`
	} `json:"input_audio"`
	File struct {
		FileData string `json:"file_data"`
	} `json:"file"`
}

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 0,
		"model":   "gemini-2.0-flash",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return string(b)
}

// newTestServer answers every chat completion with reply and records the last request
func newTestServer(t *testing.T, reply string, status int) (*httptest.Server, *capturedRequest, *int32) {
	t.Helper()
	var got capturedRequest
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, &got, &calls
}

func parts(t *testing.T, req *capturedRequest) []contentPart {
	t.Helper()
	if len(req.Messages) != 1 {
		t.Fatalf("messages=%d, want 1", len(req.Messages))
	}
	var out []contentPart
	if err := json.Unmarshal(req.Messages[0].Content, &out); err != nil {
		t.Fatalf("content is not a part list: %v (%s)", err, req.Messages[0].Content)
	}
	return out
}

func TestOpenAIAskText(t *testing.T) {
	srv, got, _ := newTestServer(t, completionBody("drink water"), http.StatusOK)
	c := NewOpenAI("test-key", srv.URL+"/", "gemini-2.0-flash", nil)

	out, err := c.AskText(context.Background(), "how do I stay hydrated?")
	if err != nil {
		t.Fatalf("AskText: %v", err)
	}
	if out != "drink water" {
		t.Fatalf("out=%q", out)
	}
	if got.Model != "gemini-2.0-flash" {
		t.Fatalf("model=%q", got.Model)
	}
	var text string
	if err := json.Unmarshal(got.Messages[0].Content, &text); err != nil {
		t.Fatalf("text content should be a plain string: %v", err)
	}
	if text != "how do I stay hydrated?" {
		t.Fatalf("text=%q", text)
	}
}

func TestOpenAIAnalyzeImageSendsDataURLThenInstruction(t *testing.T) {
	srv, got, _ := newTestServer(t, completionBody("Medicines: A"), http.StatusOK)
	c := NewOpenAI("test-key", srv.URL+"/", "m", nil)

	out, err := c.AnalyzeImage(context.Background(), Payload{Data: []byte("png-bytes")}, "read it")
	if err != nil {
		t.Fatalf("AnalyzeImage: %v", err)
	}
	if out != "Medicines: A" {
		t.Fatalf("out=%q", out)
	}
	ps := parts(t, got)
	if len(ps) != 2 {
		t.Fatalf("parts=%d, want 2", len(ps))
	}
	if ps[0].Type != "image_url" || !strings.HasPrefix(ps[0].ImageURL.URL, "data:image/png;base64,") {
		t.Fatalf("image part=%+v", ps[0])
	}
	if ps[1].Type != "text" || ps[1].Text != "read it" {
		t.Fatalf("text part=%+v", ps[1])
	}
}

func TestOpenAIAnalyzeAudioFormat(t *testing.T) {
	srv, got, _ := newTestServer(t, completionBody("hello doctor"), http.StatusOK)
	c := NewOpenAI("test-key", srv.URL+"/", "m", nil)

	if _, err := c.AnalyzeAudio(context.Background(), Payload{Data: []byte("id3"), MIMEType: "audio/mpeg"}, "transcribe"); err != nil {
		t.Fatalf("AnalyzeAudio: %v", err)
	}
	ps := parts(t, got)
	if ps[0].Type != "input_audio" || ps[0].InputAudio.Format != "mp3" || ps[0].InputAudio.Data == "" {
		t.Fatalf("audio part=%+v", ps[0])
	}
}

func TestOpenAIAnalyzeAudioM4ASendsFilePart(t *testing.T) {
	srv, got, _ := newTestServer(t, completionBody("hello doctor"), http.StatusOK)
	c := NewOpenAI("test-key", srv.URL+"/", "m", nil)

	if _, err := c.AnalyzeAudio(context.Background(), Payload{Data: []byte("ftypM4A"), MIMEType: "audio/mp4"}, "transcribe"); err != nil {
		t.Fatalf("AnalyzeAudio: %v", err)
	}
	ps := parts(t, got)
	if ps[0].Type != "file" || !strings.HasPrefix(ps[0].File.FileData, "data:audio/mp4;base64,") {
		t.Fatalf("m4a part=%+v", ps[0])
	}
	if ps[0].InputAudio.Format != "" {
		t.Fatalf("m4a labelled as %q", ps[0].InputAudio.Format)
	}
}

func TestAudioFormat(t *testing.T) {
	t.Parallel()

	for mimeType, want := range map[string]string{
		"audio/mpeg":  "mp3",
		"audio/mp3":   "mp3",
		"audio/wav":   "wav",
		"audio/x-wav": "wav",
		"audio/mp4":   "",
		"audio/ogg":   "",
	} {
		got, ok := audioFormat(mimeType)
		if got != want || ok != (want != "") {
			t.Fatalf("audioFormat(%q)=%q,%v, want %q", mimeType, got, ok, want)
		}
	}
}

func TestOpenAIAnalyzeVideoSendsFilePart(t *testing.T) {
	srv, got, _ := newTestServer(t, completionBody("squat looks fine"), http.StatusOK)
	c := NewOpenAI("test-key", srv.URL+"/", "m", nil)

	if _, err := c.AnalyzeVideo(context.Background(), Payload{Data: []byte("mp4")}, "posture"); err != nil {
		t.Fatalf("AnalyzeVideo: %v", err)
	}
	ps := parts(t, got)
	if ps[0].Type != "file" || !strings.HasPrefix(ps[0].File.FileData, "data:video/mp4;base64,") {
		t.Fatalf("file part=%+v", ps[0])
	}
}

func TestOpenAIEmptyPayloadSkipsRequest(t *testing.T) {
	srv, _, calls := newTestServer(t, completionBody("x"), http.StatusOK)
	c := NewOpenAI("test-key", srv.URL+"/", "m", nil)

	_, err := c.AnalyzeImage(context.Background(), Payload{}, "read")
	if !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("err=%v, want ErrEmptyPayload", err)
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Fatalf("expected no request for empty payload")
	}
}

func TestOpenAIServiceErrorIsNotRetried(t *testing.T) {
	srv, _, calls := newTestServer(t, "", http.StatusInternalServerError)
	c := NewOpenAI("test-key", srv.URL+"/", "m", nil)

	_, err := c.AskText(context.Background(), "hi")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "ask text") {
		t.Fatalf("err=%v, want op prefix", err)
	}
	if n := atomic.LoadInt32(calls); n != 1 {
		t.Fatalf("calls=%d, want 1", n)
	}
}

func TestOpenAINoChoices(t *testing.T) {
	body := `{"id":"x","object":"chat.completion","created":0,"model":"m","choices":[]}`
	srv, _, _ := newTestServer(t, body, http.StatusOK)
	c := NewOpenAI("test-key", srv.URL+"/", "m", nil)

	_, err := c.AskText(context.Background(), "hi")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err=%v, want ErrEmptyResponse", err)
	}
}
