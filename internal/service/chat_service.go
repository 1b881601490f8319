// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"tutoria-go/internal/model"
	"tutoria-go/internal/prompt"
	"tutoria-go/internal/repository"
	"tutoria-go/pkg/genai"
	"tutoria-go/pkg/kafka"
	"tutoria-go/pkg/log"

	"gorm.io/gorm"
)

const (
	greetingTemplate   = "Olá! Eu sou %s, seu tutor de %s. Como posso te ajudar hoje?"
	initFailureMessage = "Desculpe, não consegui iniciar a sessão de chat. Verifique a configuração da API."
	sendFailureMessage = "Desculpe, ocorreu um erro ao se comunicar com a IA. Por favor, tente novamente."
)

// ChatService 定义了对话会话的操作接口。
type ChatService interface {
	// Start 打开（或重开）某导师的会话：恢复历史或播种问候语，并重组系统指令。
	Start(ctx context.Context, userID uint, tutorID string) ([]model.ChatMessage, error)
	// Send 发送一条用户消息并流式返回模型回复；返回追加的模型消息。
	// 过期 epoch 下返回的响应被丢弃，此时返回 (nil, nil)。
	Send(ctx context.Context, userID uint, tutorID, text string, writer genai.MessageWriter) (*model.ChatMessage, error)
	// History 返回会话当前的消息列表。
	History(userID uint, tutorID string) ([]model.ChatMessage, error)
	// Clear 抹除持久化历史并把会话重置为单条问候语。
	Clear(ctx context.Context, userID uint, tutorID string) ([]model.ChatMessage, error)
	// Close 关闭会话；进行中的请求通过 epoch 作废。
	Close(userID uint, tutorID string)
}

type chatService struct {
	sessions         *SessionManager
	tutorRepo        repository.TutorRepository
	conversationRepo repository.ConversationRepository
	genaiClient      genai.Client
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(sessions *SessionManager, tutorRepo repository.TutorRepository, conversationRepo repository.ConversationRepository, genaiClient genai.Client) ChatService {
	return &chatService{
		sessions:         sessions,
		tutorRepo:        tutorRepo,
		conversationRepo: conversationRepo,
		genaiClient:      genaiClient,
	}
}

// Start 打开某导师的会话。
func (c *chatService) Start(ctx context.Context, userID uint, tutorID string) ([]model.ChatMessage, error) {
	tutor, err := c.tutorRepo.FindByID(tutorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTutorNotFound
		}
		return nil, fmt.Errorf("failed to load tutor: %w", err)
	}
	if tutor.UserID != userID {
		return nil, ErrTutorNotFound
	}

	s := c.sessions.GetOrCreate(userID, tutorID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bumpEpoch()
	s.tutor = tutor
	s.instruction = prompt.Compose(tutor)
	s.searchEnabled = tutor.Tools.WebSearch
	s.view = ViewChat
	s.quiz = nil
	s.flashcards = nil

	// 恢复失败降级为全新开始，绝不让会话打不开
	history, err := c.conversationRepo.GetHistory(ctx, tutorID)
	if err != nil {
		log.Errorf("failed to restore conversation history for tutor %s: %v", tutorID, err)
		history = nil
	}
	if len(history) > 0 {
		s.messages = history
	} else {
		s.messages = []model.ChatMessage{{
			Author: model.AuthorModel,
			Text:   fmt.Sprintf(greetingTemplate, tutor.Name, tutor.Subject),
		}}
	}

	if err := c.genaiClient.Ready(); err != nil {
		log.Errorf("failed to initialize chat session for tutor %s: %v", tutorID, err)
		s.messages = append(s.messages, model.ChatMessage{Author: model.AuthorModel, Text: initFailureMessage})
		s.usable = false
	} else {
		s.usable = true
	}

	return snapshotMessages(s.messages), nil
}

// Send 发送一条用户消息。
func (c *chatService) Send(ctx context.Context, userID uint, tutorID, text string, writer genai.MessageWriter) (*model.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrBlankMessage
	}
	s, ok := c.sessions.Get(userID, tutorID)
	if !ok {
		return nil, ErrNoSession
	}

	s.mu.Lock()
	epoch, err := s.beginRequest()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	// 乐观追加：用户消息先于请求进入会话记录
	s.messages = append(s.messages, model.ChatMessage{Author: model.AuthorUser, Text: text})
	req := genai.ChatRequest{
		SystemInstruction: s.instruction,
		History:           toGenaiHistory(s.messages[:len(s.messages)-1]),
		Text:              text,
		EnableSearch:      s.searchEnabled,
	}
	subject := s.tutor.Subject
	c.persist(tutorID, snapshotMessages(s.messages))
	s.mu.Unlock()

	result, callErr := c.genaiClient.StreamGenerate(ctx, req, writer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		// 会话已被重开或关闭，迟到的响应直接丢弃
		log.Warnf("discarding late model response for tutor %s (stale epoch %d)", tutorID, epoch)
		return nil, nil
	}
	s.endRequest()

	var reply model.ChatMessage
	if callErr != nil {
		log.Errorf("model call failed for tutor %s: %v", tutorID, callErr)
		reply = model.ChatMessage{Author: model.AuthorModel, Text: sendFailureMessage}
	} else {
		reply = model.ChatMessage{
			Author:  model.AuthorModel,
			Text:    result.Text,
			Sources: dedupeSources(result.Sources),
		}
	}
	s.messages = append(s.messages, reply)
	c.persist(tutorID, snapshotMessages(s.messages))

	if callErr == nil {
		c.emitEvent(userID, tutorID, subject)
	}
	return &reply, nil
}

// History 返回会话当前的消息列表。
func (c *chatService) History(userID uint, tutorID string) ([]model.ChatMessage, error) {
	s, ok := c.sessions.Get(userID, tutorID)
	if !ok {
		return nil, ErrNoSession
	}
	return s.Messages(), nil
}

// Clear 抹除持久化历史并把会话重置为单条问候语。
// 与存储写入不同，这里的删除失败要上报给调用方。
func (c *chatService) Clear(ctx context.Context, userID uint, tutorID string) ([]model.ChatMessage, error) {
	s, ok := c.sessions.Get(userID, tutorID)
	if !ok {
		return nil, ErrNoSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := c.conversationRepo.DeleteHistory(ctx, tutorID); err != nil {
		return nil, fmt.Errorf("failed to erase conversation history: %w", err)
	}

	s.bumpEpoch()
	s.messages = []model.ChatMessage{{
		Author: model.AuthorModel,
		Text:   fmt.Sprintf(greetingTemplate, s.tutor.Name, s.tutor.Subject),
	}}
	s.view = ViewChat
	s.quiz = nil
	s.flashcards = nil
	s.usable = c.genaiClient.Ready() == nil
	return snapshotMessages(s.messages), nil
}

// Close 关闭会话。
func (c *chatService) Close(userID uint, tutorID string) {
	if s, ok := c.sessions.Get(userID, tutorID); ok {
		s.mu.Lock()
		s.bumpEpoch()
		s.mu.Unlock()
	}
	c.sessions.Remove(userID, tutorID)
}

// persist 将完整消息列表异步写入 Redis，只记录失败。
// 仅有单条问候语时不持久化。
func (c *chatService) persist(tutorID string, messages []model.ChatMessage) {
	if len(messages) <= 1 {
		return
	}
	go func() {
		if err := c.conversationRepo.SaveHistory(context.Background(), tutorID, messages); err != nil {
			log.Errorf("failed to save conversation history for tutor %s: %v", tutorID, err)
		}
	}()
}

// emitEvent 发出一次学习活动事件，失败只记录。
func (c *chatService) emitEvent(userID uint, tutorID, subject string) {
	event := kafka.StudyEvent{
		Type:    kafka.EventChatExchange,
		UserID:  userID,
		TutorID: tutorID,
		Subject: subject,
	}
	go func() {
		if err := kafka.ProduceStudyEvent(event); err != nil {
			log.Errorf("failed to produce study event: %v", err)
		}
	}()
}

func snapshotMessages(messages []model.ChatMessage) []model.ChatMessage {
	out := make([]model.ChatMessage, len(messages))
	copy(out, messages)
	return out
}

// toGenaiHistory 把会话记录转成模型请求的历史角色消息。
func toGenaiHistory(messages []model.ChatMessage) []genai.Message {
	history := make([]genai.Message, 0, len(messages))
	for _, m := range messages {
		history = append(history, genai.Message{Role: string(m.Author), Text: m.Text})
	}
	return history
}

// dedupeSources 按 URI 去重，丢弃缺少 URI 或标题的来源。
func dedupeSources(sources []genai.Source) []model.WebSource {
	if len(sources) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(sources))
	out := make([]model.WebSource, 0, len(sources))
	for _, src := range sources {
		if src.URI == "" || src.Title == "" {
			continue
		}
		if _, ok := seen[src.URI]; ok {
			continue
		}
		seen[src.URI] = struct{}{}
		out = append(out, model.WebSource{URI: src.URI, Title: src.Title})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
