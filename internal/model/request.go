package model

type CreateChatRequest struct {
	Title string `json:"title"`
}

// SendMessageRequest is the JSON form of a send. Image is base64 (optionally a data URL).
type SendMessageRequest struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}
