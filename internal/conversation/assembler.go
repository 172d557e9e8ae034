// Package conversation projects stored chat history into the role-tagged
// message list sent to the model.
package conversation

import (
	"github.com/sashabaranov/go-openai"

	"github.com/IzzulGod/Sorachio-Chat-v2/internal/model"
)

// Request is the assembled message list. It is either a TextOnlyRequest or an
// ImageAttachedRequest and is never modified after Build returns it.
type Request interface {
	Messages() []openai.ChatCompletionMessage
	HasImage() bool
	isRequest()
}

type TextOnlyRequest struct {
	messages []openai.ChatCompletionMessage
}

func (r TextOnlyRequest) Messages() []openai.ChatCompletionMessage { return cloneMessages(r.messages) }
func (r TextOnlyRequest) HasImage() bool                           { return false }
func (TextOnlyRequest) isRequest()                                 {}

// ImageAttachedRequest carries an image on its final user turn only.
type ImageAttachedRequest struct {
	messages []openai.ChatCompletionMessage
	imageURL string
}

func (r ImageAttachedRequest) Messages() []openai.ChatCompletionMessage {
	return cloneMessages(r.messages)
}
func (r ImageAttachedRequest) HasImage() bool  { return true }
func (r ImageAttachedRequest) ImageURL() string { return r.imageURL }
func (ImageAttachedRequest) isRequest()         {}

type Assembler struct {
	systemPrompt string
}

func NewAssembler(systemPrompt string) *Assembler {
	return &Assembler{systemPrompt: systemPrompt}
}

// Build returns the system prompt, then prior turns in order, then the new
// user turn. Images on prior turns are not re-sent.
func (a *Assembler) Build(prior []model.Message, text, imageDataURL string) Request {
	messages := make([]openai.ChatCompletionMessage, 0, len(prior)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: a.systemPrompt,
	})

	for _, msg := range prior {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	if imageDataURL == "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: text,
		})
		return TextOnlyRequest{messages: messages}
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: text},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: imageDataURL}},
		},
	})
	return ImageAttachedRequest{messages: messages, imageURL: imageDataURL}
}

func cloneMessages(in []openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(in))
	for i, msg := range in {
		if len(msg.MultiContent) > 0 {
			parts := make([]openai.ChatMessagePart, len(msg.MultiContent))
			for j, part := range msg.MultiContent {
				if part.ImageURL != nil {
					img := *part.ImageURL
					part.ImageURL = &img
				}
				parts[j] = part
			}
			msg.MultiContent = parts
		}
		out[i] = msg
	}
	return out
}
