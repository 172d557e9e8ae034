package completion

import (
	"github.com/sashabaranov/go-openai"
)

// chatPayload is the body posted to the proxy. go-openai's request type tags
// temperature, max_tokens and part text with omitempty, so zero values would
// vanish from the wire; these fields are always written.
type chatPayload struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

// wireMessage.Content is a string, or []wirePart for a turn with an image.
type wireMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type wirePart struct {
	Type     string        `json:"type"`
	Text     *string       `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

func newChatPayload(messages []openai.ChatCompletionMessage, cfg ModelConfig, model string) chatPayload {
	p := chatPayload{
		Model:       model,
		Messages:    make([]wireMessage, 0, len(messages)),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	for _, msg := range messages {
		p.Messages = append(p.Messages, toWireMessage(msg))
	}
	return p
}

func toWireMessage(msg openai.ChatCompletionMessage) wireMessage {
	if len(msg.MultiContent) == 0 {
		return wireMessage{Role: msg.Role, Content: msg.Content}
	}

	parts := make([]wirePart, 0, len(msg.MultiContent))
	for _, part := range msg.MultiContent {
		wp := wirePart{Type: string(part.Type)}
		switch part.Type {
		case openai.ChatMessagePartTypeText:
			text := part.Text
			wp.Text = &text
		case openai.ChatMessagePartTypeImageURL:
			if part.ImageURL != nil {
				wp.ImageURL = &wireImageURL{URL: part.ImageURL.URL}
			}
		}
		parts = append(parts, wp)
	}
	return wireMessage{Role: msg.Role, Content: parts}
}
