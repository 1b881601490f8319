// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"
	"fmt"
	"sync"
	"tutoria-go/internal/model"
)

var (
	// ErrNoSession 表示该导师还没有活跃会话。
	ErrNoSession = errors.New("no active session for tutor")
	// ErrBusy 表示会话已有一个进行中的请求，新请求被忽略。
	ErrBusy = errors.New("a request is already in flight")
	// ErrBlankMessage 表示消息为空白，不产生任何副作用。
	ErrBlankMessage = errors.New("message is blank")
	// ErrSessionUnusable 表示会话初始化失败，需要重新选择导师。
	ErrSessionUnusable = errors.New("session is unusable until restarted")
	// ErrWrongView 表示当前视图不允许该操作。
	ErrWrongView = errors.New("operation not allowed in current view")
)

// ViewState 标识会话当前展示的视图。
type ViewState string

const (
	ViewChat       ViewState = "chat"
	ViewQuiz       ViewState = "quiz"
	ViewFlashcards ViewState = "flashcards"
)

// QuizState 保存测验视图的瞬态进度，随视图关闭而丢弃。
type QuizState struct {
	Questions      []model.QuizQuestion
	Cursor         int
	Answers        []*string
	ConfirmPending bool
	Graded         bool
}

// FlashcardState 保存卡片视图的瞬态进度。
// 游标移动时 Flipped 总是复位。
type FlashcardState struct {
	Cards   []model.Flashcard
	Cursor  int
	Flipped bool
}

// ChatSession 代表一个 (用户, 导师) 的活跃会话。
// 所有字段都由 mu 保护；busy 拒绝（而非排队）并发请求；
// epoch 在 Start/Clear/Close 时递增，过期 epoch 下返回的模型响应被丢弃。
type ChatSession struct {
	mu sync.Mutex

	tutor         *model.Tutor
	instruction   string
	searchEnabled bool

	messages []model.ChatMessage
	usable   bool
	busy     bool
	epoch    uint64

	view       ViewState
	quiz       *QuizState
	flashcards *FlashcardState
}

// beginRequest 在持锁状态下检查并占用会话；返回占用时的 epoch。
func (s *ChatSession) beginRequest() (uint64, error) {
	if !s.usable {
		return 0, ErrSessionUnusable
	}
	if s.busy {
		return 0, ErrBusy
	}
	s.busy = true
	return s.epoch, nil
}

// endRequest 在持锁状态下释放会话。
func (s *ChatSession) endRequest() {
	s.busy = false
}

// bumpEpoch 在持锁状态下作废所有进行中请求的响应。
func (s *ChatSession) bumpEpoch() {
	s.epoch++
	s.busy = false
}

// Messages 返回当前消息列表的副本。
func (s *ChatSession) Messages() []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// sessionKey 唯一标识一个 (用户, 导师) 会话。
type sessionKey struct {
	userID  uint
	tutorID string
}

func (k sessionKey) String() string {
	return fmt.Sprintf("%d:%s", k.userID, k.tutorID)
}

// SessionManager 是会话注册表，由 ChatService 和 StudyService 共享，
// 保证聊天发送与测验/卡片生成落在同一个 busy 标志域内。
type SessionManager struct {
	mu       sync.Mutex
	sessions map[sessionKey]*ChatSession
}

// NewSessionManager 创建一个新的 SessionManager 实例。
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[sessionKey]*ChatSession)}
}

// Get 返回已存在的会话。
func (m *SessionManager) Get(userID uint, tutorID string) (*ChatSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionKey{userID: userID, tutorID: tutorID}]
	return s, ok
}

// GetOrCreate 返回已存在的会话，或注册一个新的空会话。
func (m *SessionManager) GetOrCreate(userID uint, tutorID string) *ChatSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKey{userID: userID, tutorID: tutorID}
	if s, ok := m.sessions[key]; ok {
		return s
	}
	s := &ChatSession{view: ViewChat}
	m.sessions[key] = s
	return s
}

// Remove 注销一个会话。进行中的请求通过 epoch 递增作废。
func (m *SessionManager) Remove(userID uint, tutorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionKey{userID: userID, tutorID: tutorID})
}

// RemoveByTutor 注销某导师的所有会话，用于导师被删除时。
func (m *SessionManager) RemoveByTutor(tutorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, s := range m.sessions {
		if key.tutorID == tutorID {
			s.mu.Lock()
			s.bumpEpoch()
			s.mu.Unlock()
			delete(m.sessions, key)
		}
	}
}
