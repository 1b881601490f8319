package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"tutoria-go/internal/model"
	"tutoria-go/internal/repository"
	"tutoria-go/pkg/genai"
	"tutoria-go/pkg/kafka"
	"tutoria-go/pkg/log"
)

const (
	quizQuestionCount  = 5
	quizOptionCount    = 4
	flashcardCount     = 10
	topicHintMessages  = 3
	unansweredLabel    = "Não respondida"
	quizConfirmMessage = "Você não respondeu todas as perguntas. Deseja finalizar mesmo assim?"

	quizWorkingMessage = "Ótimo! Estou preparando um quiz sobre o que conversamos. Um momento..."
	quizFailureMessage = "Desculpe, não consegui gerar o quiz. Por favor, tente novamente."
	deckWorkingMessage = "Ótimo! Estou preparando seus flashcards. Um momento..."
	deckFailureMessage = "Desculpe, não consegui gerar os flashcards. Por favor, tente novamente."
)

var (
	// ErrGenerationFailed 表示模型返回了空的或不合规的批次。
	ErrGenerationFailed = errors.New("structured generation failed")
	// ErrConfirmRequired 表示还有未作答的题目，交卷需要二次确认。
	ErrConfirmRequired = errors.New("confirmation required: " + quizConfirmMessage)
	// ErrInvalidAnswer 表示所选答案不在当前题目的选项中。
	ErrInvalidAnswer = errors.New("answer is not one of the options")
)

// QuizReviewRow 是复盘屏上一道题的展示行。
// CorrectAnswer 仅在记录答案与正确答案不同的时候给出，
// Explanation 仅在答错时给出。
type QuizReviewRow struct {
	Question       string `json:"question"`
	RecordedAnswer string `json:"recordedAnswer"`
	Correct        bool   `json:"correct"`
	CorrectAnswer  string `json:"correctAnswer,omitempty"`
	Explanation    string `json:"explanation,omitempty"`
}

// QuizResult 是一次判分的结果，判分是对答案数组的纯折叠。
type QuizResult struct {
	Score      int             `json:"score"`
	Total      int             `json:"total"`
	Percentage float64         `json:"percentage"`
	Review     []QuizReviewRow `json:"review"`
}

// QuizSnapshot 是测验视图的当前状态。
type QuizSnapshot struct {
	Questions []model.QuizQuestion `json:"questions"`
	Cursor    int                  `json:"cursor"`
	Answers   []*string            `json:"answers"`
	Graded    bool                 `json:"graded"`
}

// FlashcardSnapshot 是卡片视图的当前状态。
type FlashcardSnapshot struct {
	Cards   []model.Flashcard `json:"cards"`
	Cursor  int               `json:"cursor"`
	Flipped bool              `json:"flipped"`
}

// ViewSnapshot 是会话视图状态机的对外快照。
type ViewSnapshot struct {
	View       ViewState          `json:"view"`
	Quiz       *QuizSnapshot      `json:"quiz,omitempty"`
	Flashcards *FlashcardSnapshot `json:"flashcards,omitempty"`
}

// StudyService 定义了测验/卡片生成与视图状态机的操作。
// 生成与聊天发送共享同一个 busy 标志域：任一在途时其余请求都被拒绝。
type StudyService interface {
	GenerateQuiz(ctx context.Context, userID uint, tutorID string) ([]model.QuizQuestion, error)
	GenerateFlashcards(ctx context.Context, userID uint, tutorID string) ([]model.Flashcard, error)

	View(userID uint, tutorID string) (*ViewSnapshot, error)
	// CloseView 从测验或卡片视图回到聊天视图；聊天记录原样保留。
	CloseView(userID uint, tutorID string) error

	AnswerQuiz(userID uint, tutorID, answer string) error
	NextQuestion(userID uint, tutorID string) error
	PrevQuestion(userID uint, tutorID string) error
	// SubmitQuiz 判分；存在未作答题目且未确认时返回 ErrConfirmRequired。
	SubmitQuiz(userID uint, tutorID string, confirmed bool) (*QuizResult, error)

	NextCard(userID uint, tutorID string) error
	PrevCard(userID uint, tutorID string) error
	FlipCard(userID uint, tutorID string) error
}

type studyService struct {
	sessions         *SessionManager
	conversationRepo repository.ConversationRepository
	genaiClient      genai.Client
}

// NewStudyService 创建一个新的 StudyService 实例。
func NewStudyService(sessions *SessionManager, conversationRepo repository.ConversationRepository, genaiClient genai.Client) StudyService {
	return &studyService{
		sessions:         sessions,
		conversationRepo: conversationRepo,
		genaiClient:      genaiClient,
	}
}

// GenerateQuiz 请求一批 5 道四选一测验题，成功后切换到测验视图。
func (s *studyService) GenerateQuiz(ctx context.Context, userID uint, tutorID string) ([]model.QuizQuestion, error) {
	raw, sess, epoch, ok, err := s.generate(ctx, userID, tutorID, quizWorkingMessage, quizFailureMessage,
		func(topic string) (string, *genai.Schema) {
			p := fmt.Sprintf("Crie um quiz de %d perguntas de múltipla escolha para testar o conhecimento do aluno sobre o tópico a seguir. Cada pergunta deve ter exatamente %d opções, uma resposta correta idêntica a uma das opções e uma explicação curta. Responda em português.\n\nTópico:\n%s",
				quizQuestionCount, quizOptionCount, topic)
			return p, quizSchema()
		})
	if err != nil || !ok {
		return nil, err
	}

	var questions []model.QuizQuestion
	if jsonErr := json.Unmarshal([]byte(raw), &questions); jsonErr != nil || !validQuizBatch(questions) {
		s.failGeneration(sess, tutorID, quizFailureMessage)
		return nil, ErrGenerationFailed
	}

	sess.mu.Lock()
	if sess.epoch != epoch {
		sess.mu.Unlock()
		return nil, nil
	}
	sess.view = ViewQuiz
	sess.quiz = &QuizState{
		Questions: questions,
		Answers:   make([]*string, len(questions)),
	}
	sess.flashcards = nil
	sess.mu.Unlock()
	return questions, nil
}

// GenerateFlashcards 请求一批 10 张卡片，成功后切换到卡片视图。
func (s *studyService) GenerateFlashcards(ctx context.Context, userID uint, tutorID string) ([]model.Flashcard, error) {
	raw, sess, epoch, ok, err := s.generate(ctx, userID, tutorID, deckWorkingMessage, deckFailureMessage,
		func(topic string) (string, *genai.Schema) {
			p := fmt.Sprintf("Crie %d flashcards de estudo sobre o tópico a seguir. Cada flashcard deve ter uma pergunta curta e uma resposta objetiva. Responda em português.\n\nTópico:\n%s",
				flashcardCount, topic)
			return p, flashcardSchema()
		})
	if err != nil || !ok {
		return nil, err
	}

	var cards []model.Flashcard
	if jsonErr := json.Unmarshal([]byte(raw), &cards); jsonErr != nil || !validFlashcardBatch(cards) {
		s.failGeneration(sess, tutorID, deckFailureMessage)
		return nil, ErrGenerationFailed
	}

	sess.mu.Lock()
	if sess.epoch != epoch {
		sess.mu.Unlock()
		return nil, nil
	}
	sess.view = ViewFlashcards
	sess.flashcards = &FlashcardState{Cards: cards}
	sess.quiz = nil
	subject := sess.tutor.Subject
	sess.mu.Unlock()

	s.emitEvent(kafka.StudyEvent{
		Type:    kafka.EventFlashcardsGenerated,
		UserID:  userID,
		TutorID: tutorID,
		Subject: subject,
	})
	return cards, nil
}

// generate 执行两种生成流共同的协议：占用会话、追加瞬态消息、
// 发起一次受 schema 约束的请求、移除瞬态消息。ok 为 false 表示
// 响应因 epoch 过期被丢弃。失败时瞬态消息已被替换为失败通知。
func (s *studyService) generate(ctx context.Context, userID uint, tutorID, workingMsg, failureMsg string, build func(topic string) (string, *genai.Schema)) (string, *ChatSession, uint64, bool, error) {
	sess, found := s.sessions.Get(userID, tutorID)
	if !found {
		return "", nil, 0, false, ErrNoSession
	}

	sess.mu.Lock()
	if sess.view != ViewChat {
		sess.mu.Unlock()
		return "", nil, 0, false, ErrWrongView
	}
	epoch, err := sess.beginRequest()
	if err != nil {
		sess.mu.Unlock()
		return "", nil, 0, false, err
	}
	topic := topicHint(sess.messages, sess.tutor.Subject)
	sess.messages = append(sess.messages, model.ChatMessage{Author: model.AuthorModel, Text: workingMsg})
	transientIdx := len(sess.messages) - 1
	sess.mu.Unlock()

	promptText, schema := build(topic)
	raw, callErr := s.genaiClient.GenerateJSON(ctx, promptText, schema)

	sess.mu.Lock()
	if sess.epoch != epoch {
		sess.mu.Unlock()
		log.Warnf("discarding late generation result for tutor %s (stale epoch %d)", tutorID, epoch)
		return "", nil, 0, false, nil
	}
	sess.endRequest()
	// busy 挡住了并发追加，瞬态消息的位置在同一 epoch 内保持有效
	sess.messages = append(sess.messages[:transientIdx], sess.messages[transientIdx+1:]...)
	if callErr != nil {
		log.Errorf("structured generation failed for tutor %s: %v", tutorID, callErr)
		sess.messages = append(sess.messages, model.ChatMessage{Author: model.AuthorModel, Text: failureMsg})
		s.persist(tutorID, snapshotMessages(sess.messages))
		sess.mu.Unlock()
		return "", nil, 0, false, ErrGenerationFailed
	}
	sess.mu.Unlock()
	return raw, sess, epoch, true, nil
}

// failGeneration 把失败通知追加到聊天记录，视图停留在聊天。
func (s *studyService) failGeneration(sess *ChatSession, tutorID, failureMsg string) {
	sess.mu.Lock()
	sess.messages = append(sess.messages, model.ChatMessage{Author: model.AuthorModel, Text: failureMsg})
	s.persist(tutorID, snapshotMessages(sess.messages))
	sess.mu.Unlock()
}

// View 返回视图状态机的当前快照。
func (s *studyService) View(userID uint, tutorID string) (*ViewSnapshot, error) {
	sess, found := s.sessions.Get(userID, tutorID)
	if !found {
		return nil, ErrNoSession
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	snap := &ViewSnapshot{View: sess.view}
	if sess.quiz != nil {
		answers := make([]*string, len(sess.quiz.Answers))
		copy(answers, sess.quiz.Answers)
		snap.Quiz = &QuizSnapshot{
			Questions: sess.quiz.Questions,
			Cursor:    sess.quiz.Cursor,
			Answers:   answers,
			Graded:    sess.quiz.Graded,
		}
	}
	if sess.flashcards != nil {
		snap.Flashcards = &FlashcardSnapshot{
			Cards:   sess.flashcards.Cards,
			Cursor:  sess.flashcards.Cursor,
			Flipped: sess.flashcards.Flipped,
		}
	}
	return snap, nil
}

// CloseView 回到聊天视图并丢弃测验/卡片的瞬态状态。
func (s *studyService) CloseView(userID uint, tutorID string) error {
	sess, found := s.sessions.Get(userID, tutorID)
	if !found {
		return ErrNoSession
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.view = ViewChat
	sess.quiz = nil
	sess.flashcards = nil
	return nil
}

// AnswerQuiz 记录当前题目的答案，答案必须是选项之一。
func (s *studyService) AnswerQuiz(userID uint, tutorID, answer string) error {
	return s.withQuiz(userID, tutorID, func(q *QuizState) error {
		question := q.Questions[q.Cursor]
		valid := false
		for _, opt := range question.Options {
			if opt == answer {
				valid = true
				break
			}
		}
		if !valid {
			return ErrInvalidAnswer
		}
		a := answer
		q.Answers[q.Cursor] = &a
		q.ConfirmPending = false
		return nil
	})
}

// NextQuestion 前进一题；当前题未作答时不放行。
func (s *studyService) NextQuestion(userID uint, tutorID string) error {
	return s.withQuiz(userID, tutorID, func(q *QuizState) error {
		if q.Answers[q.Cursor] == nil {
			return nil
		}
		if q.Cursor < len(q.Questions)-1 {
			q.Cursor++
		}
		return nil
	})
}

// PrevQuestion 后退一题；后退不设门槛。
func (s *studyService) PrevQuestion(userID uint, tutorID string) error {
	return s.withQuiz(userID, tutorID, func(q *QuizState) error {
		if q.Cursor > 0 {
			q.Cursor--
		}
		return nil
	})
}

// SubmitQuiz 判分并生成复盘行。
func (s *studyService) SubmitQuiz(userID uint, tutorID string, confirmed bool) (*QuizResult, error) {
	sess, found := s.sessions.Get(userID, tutorID)
	if !found {
		return nil, ErrNoSession
	}
	sess.mu.Lock()
	if sess.view != ViewQuiz || sess.quiz == nil {
		sess.mu.Unlock()
		return nil, ErrWrongView
	}
	q := sess.quiz

	unanswered := false
	for _, a := range q.Answers {
		if a == nil {
			unanswered = true
			break
		}
	}
	if unanswered && !confirmed {
		q.ConfirmPending = true
		sess.mu.Unlock()
		return nil, ErrConfirmRequired
	}

	result := gradeQuiz(q.Questions, q.Answers)
	q.Graded = true
	q.ConfirmPending = false
	subject := sess.tutor.Subject
	sess.mu.Unlock()

	s.emitEvent(kafka.StudyEvent{
		Type:    kafka.EventQuizGraded,
		UserID:  userID,
		TutorID: tutorID,
		Subject: subject,
		Detail:  fmt.Sprintf("score=%d/%d", result.Score, result.Total),
	})
	return result, nil
}

// NextCard 前进一张卡片，到底后不回绕。
func (s *studyService) NextCard(userID uint, tutorID string) error {
	return s.withFlashcards(userID, tutorID, func(f *FlashcardState) error {
		if f.Cursor < len(f.Cards)-1 {
			f.Cursor++
			f.Flipped = false
		}
		return nil
	})
}

// PrevCard 后退一张卡片，到头后不回绕。
func (s *studyService) PrevCard(userID uint, tutorID string) error {
	return s.withFlashcards(userID, tutorID, func(f *FlashcardState) error {
		if f.Cursor > 0 {
			f.Cursor--
			f.Flipped = false
		}
		return nil
	})
}

// FlipCard 翻转当前卡片。
func (s *studyService) FlipCard(userID uint, tutorID string) error {
	return s.withFlashcards(userID, tutorID, func(f *FlashcardState) error {
		f.Flipped = !f.Flipped
		return nil
	})
}

func (s *studyService) withQuiz(userID uint, tutorID string, fn func(*QuizState) error) error {
	sess, found := s.sessions.Get(userID, tutorID)
	if !found {
		return ErrNoSession
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.view != ViewQuiz || sess.quiz == nil {
		return ErrWrongView
	}
	return fn(sess.quiz)
}

func (s *studyService) withFlashcards(userID uint, tutorID string, fn func(*FlashcardState) error) error {
	sess, found := s.sessions.Get(userID, tutorID)
	if !found {
		return ErrNoSession
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.view != ViewFlashcards || sess.flashcards == nil {
		return ErrWrongView
	}
	return fn(sess.flashcards)
}

func (s *studyService) persist(tutorID string, messages []model.ChatMessage) {
	if len(messages) <= 1 {
		return
	}
	go func() {
		if err := s.conversationRepo.SaveHistory(context.Background(), tutorID, messages); err != nil {
			log.Errorf("failed to save conversation history for tutor %s: %v", tutorID, err)
		}
	}()
}

func (s *studyService) emitEvent(event kafka.StudyEvent) {
	go func() {
		if err := kafka.ProduceStudyEvent(event); err != nil {
			log.Errorf("failed to produce study event: %v", err)
		}
	}()
}

// gradeQuiz 对答案数组做一次纯折叠判分。
func gradeQuiz(questions []model.QuizQuestion, answers []*string) *QuizResult {
	result := &QuizResult{Total: len(questions)}
	for i, question := range questions {
		row := QuizReviewRow{Question: question.Question, RecordedAnswer: unansweredLabel}
		recorded := ""
		if answers[i] != nil {
			recorded = *answers[i]
			row.RecordedAnswer = recorded
		}
		if recorded == question.CorrectAnswer {
			row.Correct = true
			result.Score++
		} else {
			row.CorrectAnswer = question.CorrectAnswer
			row.Explanation = question.Explanation
		}
		result.Review = append(result.Review, row)
	}
	if result.Total > 0 {
		result.Percentage = float64(result.Score) / float64(result.Total)
	}
	return result
}

// topicHint 取最近三条用户消息拼接为主题提示；没有就退回学科级的泛化主题。
func topicHint(messages []model.ChatMessage, subject string) string {
	var recent []string
	for i := len(messages) - 1; i >= 0 && len(recent) < topicHintMessages; i-- {
		if messages[i].Author == model.AuthorUser {
			recent = append([]string{messages[i].Text}, recent...)
		}
	}
	if len(recent) == 0 {
		return fmt.Sprintf("os conceitos fundamentais de %s", subject)
	}
	return strings.Join(recent, "\n")
}

func quizSchema() *genai.Schema {
	return &genai.Schema{
		Type: "array",
		Items: &genai.Schema{
			Type: "object",
			Properties: map[string]*genai.Schema{
				"question":      {Type: "string"},
				"options":       {Type: "array", Items: &genai.Schema{Type: "string"}},
				"correctAnswer": {Type: "string"},
				"explanation":   {Type: "string"},
			},
			Required: []string{"question", "options", "correctAnswer", "explanation"},
		},
	}
}

func flashcardSchema() *genai.Schema {
	return &genai.Schema{
		Type: "array",
		Items: &genai.Schema{
			Type: "object",
			Properties: map[string]*genai.Schema{
				"question": {Type: "string"},
				"answer":   {Type: "string"},
			},
			Required: []string{"question", "answer"},
		},
	}
}

// validQuizBatch 校验批次非空、每题四个选项且正确答案在选项中。
func validQuizBatch(questions []model.QuizQuestion) bool {
	if len(questions) == 0 {
		return false
	}
	for _, q := range questions {
		if q.Question == "" || len(q.Options) != quizOptionCount {
			return false
		}
		found := false
		for _, opt := range q.Options {
			if opt == q.CorrectAnswer {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func validFlashcardBatch(cards []model.Flashcard) bool {
	if len(cards) == 0 {
		return false
	}
	for _, c := range cards {
		if c.Question == "" || c.Answer == "" {
			return false
		}
	}
	return true
}
