package model

// MessageAuthor 标识消息的发出方。
type MessageAuthor string

const (
	AuthorUser  MessageAuthor = "user"
	AuthorModel MessageAuthor = "model"
)

// ChatMessage 代表存储在 Redis 中的单条对话消息。
// Sources 仅在模型消息引用了网络来源时出现。
type ChatMessage struct {
	Author  MessageAuthor `json:"author"`
	Text    string        `json:"text"`
	Sources []WebSource   `json:"sources,omitempty"`
}
