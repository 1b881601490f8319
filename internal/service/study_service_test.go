package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"tutoria-go/internal/model"
)

func studyFixture(t *testing.T, client *fakeGenaiClient) (StudyService, ChatService, *SessionManager) {
	t.Helper()
	repo := newFakeTutorRepo(&model.Tutor{
		ID: "t1", UserID: 1, Name: "Professora Ana", Subject: "História",
		Persona: "Você é uma professora de história paciente.",
	})
	convRepo := newFakeConversationRepo()
	sessions := NewSessionManager()
	chatSvc := NewChatService(sessions, repo, convRepo, client)
	studySvc := NewStudyService(sessions, convRepo, client)
	mustStart(t, chatSvc)
	return studySvc, chatSvc, sessions
}

func quizBatchJSON(t *testing.T, n int) string {
	t.Helper()
	questions := make([]model.QuizQuestion, n)
	for i := range questions {
		questions[i] = model.QuizQuestion{
			Question:      fmt.Sprintf("Pergunta %d?", i+1),
			Options:       []string{"A", "B", "C", "D"},
			CorrectAnswer: "A",
			Explanation:   "Porque sim.",
		}
	}
	data, err := json.Marshal(questions)
	if err != nil {
		t.Fatalf("marshal quiz batch: %v", err)
	}
	return string(data)
}

func flashcardBatchJSON(t *testing.T, n int) string {
	t.Helper()
	cards := make([]model.Flashcard, n)
	for i := range cards {
		cards[i] = model.Flashcard{
			Question: fmt.Sprintf("Pergunta %d?", i+1),
			Answer:   fmt.Sprintf("Resposta %d", i+1),
		}
	}
	data, err := json.Marshal(cards)
	if err != nil {
		t.Fatalf("marshal flashcard batch: %v", err)
	}
	return string(data)
}

func TestGenerateQuizSwitchesView(t *testing.T) {
	client := &fakeGenaiClient{jsonResult: quizBatchJSON(t, 5)}
	svc, chatSvc, _ := studyFixture(t, client)

	questions, err := svc.GenerateQuiz(context.Background(), 1, "t1")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(questions) != 5 {
		t.Fatalf("expected 5 questions, got %d", len(questions))
	}

	snap, err := svc.View(1, "t1")
	if err != nil {
		t.Fatalf("view failed: %v", err)
	}
	if snap.View != ViewQuiz || snap.Quiz == nil {
		t.Fatalf("expected quiz view, got %+v", snap)
	}
	if snap.Quiz.Cursor != 0 || len(snap.Quiz.Answers) != 5 {
		t.Errorf("quiz state not initialized: %+v", snap.Quiz)
	}

	// 瞬态的“正在准备”消息在成功后被移除，聊天记录保持原样
	history, _ := chatSvc.History(1, "t1")
	if len(history) != 1 {
		t.Errorf("transcript must be untouched after success, got %d messages", len(history))
	}
}

func TestGenerateQuizInvalidBatchFails(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty array", "[]"},
		{"not json", "isto não é JSON"},
		{"three options", `[{"question":"Q?","options":["A","B","C"],"correctAnswer":"A","explanation":"e"}]`},
		{"answer not an option", `[{"question":"Q?","options":["A","B","C","D"],"correctAnswer":"E","explanation":"e"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeGenaiClient{jsonResult: tt.raw}
			svc, chatSvc, _ := studyFixture(t, client)

			if _, err := svc.GenerateQuiz(context.Background(), 1, "t1"); !errors.Is(err, ErrGenerationFailed) {
				t.Fatalf("expected ErrGenerationFailed, got %v", err)
			}
			snap, _ := svc.View(1, "t1")
			if snap.View != ViewChat {
				t.Errorf("view must stay on chat after failure, got %s", snap.View)
			}
			history, _ := chatSvc.History(1, "t1")
			last := history[len(history)-1]
			if last.Text != "Desculpe, não consegui gerar o quiz. Por favor, tente novamente." {
				t.Errorf("failure notice missing from transcript: %+v", last)
			}
		})
	}
}

func TestGenerateQuizCallFailure(t *testing.T) {
	client := &fakeGenaiClient{jsonErr: errors.New("upstream 503")}
	svc, chatSvc, _ := studyFixture(t, client)

	if _, err := svc.GenerateQuiz(context.Background(), 1, "t1"); !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	history, _ := chatSvc.History(1, "t1")
	if len(history) != 2 {
		t.Fatalf("expected greeting + failure notice, got %d messages", len(history))
	}
}

func TestGenerateQuizRequiresChatView(t *testing.T) {
	client := &fakeGenaiClient{jsonResult: quizBatchJSON(t, 5)}
	svc, _, _ := studyFixture(t, client)

	if _, err := svc.GenerateQuiz(context.Background(), 1, "t1"); err != nil {
		t.Fatalf("first generate failed: %v", err)
	}
	if _, err := svc.GenerateQuiz(context.Background(), 1, "t1"); !errors.Is(err, ErrWrongView) {
		t.Errorf("expected ErrWrongView inside quiz view, got %v", err)
	}
}

func TestGenerateQuizWhileBusyIsRejected(t *testing.T) {
	client := &fakeGenaiClient{jsonResult: quizBatchJSON(t, 5)}
	svc, _, sessions := studyFixture(t, client)

	sess, _ := sessions.Get(1, "t1")
	sess.mu.Lock()
	sess.busy = true
	sess.mu.Unlock()

	if _, err := svc.GenerateQuiz(context.Background(), 1, "t1"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
}

func TestGenerateQuizStaleEpochIsDiscarded(t *testing.T) {
	client := &fakeGenaiClient{jsonResult: quizBatchJSON(t, 5)}
	svc, chatSvc, _ := studyFixture(t, client)

	// 生成期间会话被关闭，迟到的批次被静默丢弃
	client.jsonHook = func() { chatSvc.Close(1, "t1") }

	questions, err := svc.GenerateQuiz(context.Background(), 1, "t1")
	if err != nil {
		t.Fatalf("stale batch must be discarded silently: %v", err)
	}
	if questions != nil {
		t.Errorf("expected nil batch for stale epoch, got %d questions", len(questions))
	}
}

func TestGenerateFlashcardsSwitchesView(t *testing.T) {
	client := &fakeGenaiClient{jsonResult: flashcardBatchJSON(t, 10)}
	svc, _, _ := studyFixture(t, client)

	cards, err := svc.GenerateFlashcards(context.Background(), 1, "t1")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(cards) != 10 {
		t.Fatalf("expected 10 cards, got %d", len(cards))
	}
	snap, _ := svc.View(1, "t1")
	if snap.View != ViewFlashcards || snap.Flashcards == nil {
		t.Fatalf("expected flashcard view, got %+v", snap)
	}
}

func TestAnswerQuizValidation(t *testing.T) {
	client := &fakeGenaiClient{jsonResult: quizBatchJSON(t, 5)}
	svc, _, _ := studyFixture(t, client)
	if _, err := svc.GenerateQuiz(context.Background(), 1, "t1"); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if err := svc.AnswerQuiz(1, "t1", "Z"); !errors.Is(err, ErrInvalidAnswer) {
		t.Errorf("expected ErrInvalidAnswer, got %v", err)
	}
	if err := svc.AnswerQuiz(1, "t1", "B"); err != nil {
		t.Fatalf("answer failed: %v", err)
	}
	snap, _ := svc.View(1, "t1")
	if snap.Quiz.Answers[0] == nil || *snap.Quiz.Answers[0] != "B" {
		t.Errorf("answer not recorded: %+v", snap.Quiz.Answers)
	}
}

func TestQuizNavigationGatesOnAnswer(t *testing.T) {
	client := &fakeGenaiClient{jsonResult: quizBatchJSON(t, 5)}
	svc, _, _ := studyFixture(t, client)
	if _, err := svc.GenerateQuiz(context.Background(), 1, "t1"); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	// 未作答时前进不放行
	if err := svc.NextQuestion(1, "t1"); err != nil {
		t.Fatalf("next failed: %v", err)
	}
	snap, _ := svc.View(1, "t1")
	if snap.Quiz.Cursor != 0 {
		t.Errorf("cursor must not advance on unanswered question, got %d", snap.Quiz.Cursor)
	}

	if err := svc.AnswerQuiz(1, "t1", "A"); err != nil {
		t.Fatalf("answer failed: %v", err)
	}
	if err := svc.NextQuestion(1, "t1"); err != nil {
		t.Fatalf("next failed: %v", err)
	}
	snap, _ = svc.View(1, "t1")
	if snap.Quiz.Cursor != 1 {
		t.Errorf("cursor should advance after answering, got %d", snap.Quiz.Cursor)
	}

	// 后退不设门槛，且不越过第一题
	if err := svc.PrevQuestion(1, "t1"); err != nil {
		t.Fatalf("prev failed: %v", err)
	}
	if err := svc.PrevQuestion(1, "t1"); err != nil {
		t.Fatalf("prev failed: %v", err)
	}
	snap, _ = svc.View(1, "t1")
	if snap.Quiz.Cursor != 0 {
		t.Errorf("cursor must not go below zero, got %d", snap.Quiz.Cursor)
	}
}

func TestSubmitQuizConfirmGating(t *testing.T) {
	client := &fakeGenaiClient{jsonResult: quizBatchJSON(t, 5)}
	svc, _, _ := studyFixture(t, client)
	if _, err := svc.GenerateQuiz(context.Background(), 1, "t1"); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if err := svc.AnswerQuiz(1, "t1", "A"); err != nil {
		t.Fatalf("answer failed: %v", err)
	}

	if _, err := svc.SubmitQuiz(1, "t1", false); !errors.Is(err, ErrConfirmRequired) {
		t.Fatalf("expected ErrConfirmRequired, got %v", err)
	}

	result, err := svc.SubmitQuiz(1, "t1", true)
	if err != nil {
		t.Fatalf("confirmed submit failed: %v", err)
	}
	if result.Score != 1 || result.Total != 5 {
		t.Errorf("unexpected result: %+v", result)
	}
	snap, _ := svc.View(1, "t1")
	if !snap.Quiz.Graded {
		t.Error("quiz should be marked graded after submit")
	}
}

func TestGradeQuiz(t *testing.T) {
	questions := []model.QuizQuestion{
		{Question: "Q1", Options: []string{"A", "x", "y", "z"}, CorrectAnswer: "A", Explanation: "e1"},
		{Question: "Q2", Options: []string{"B", "x", "y", "z"}, CorrectAnswer: "B", Explanation: "e2"},
		{Question: "Q3", Options: []string{"C", "x", "y", "z"}, CorrectAnswer: "C", Explanation: "e3"},
		{Question: "Q4", Options: []string{"D", "x", "y", "z"}, CorrectAnswer: "D", Explanation: "e4"},
		{Question: "Q5", Options: []string{"E", "x", "y", "z"}, CorrectAnswer: "E", Explanation: "e5"},
	}
	a, x, c, e := "A", "x", "C", "E"
	answers := []*string{&a, &x, &c, nil, &e}

	result := gradeQuiz(questions, answers)
	if result.Score != 3 || result.Total != 5 {
		t.Fatalf("expected score 3/5, got %d/%d", result.Score, result.Total)
	}
	if result.Percentage != 0.6 {
		t.Errorf("expected percentage 0.6, got %f", result.Percentage)
	}

	// 答对的行不带正确答案和解释
	if row := result.Review[0]; !row.Correct || row.CorrectAnswer != "" || row.Explanation != "" {
		t.Errorf("correct row must not carry corrections: %+v", row)
	}
	// 答错的行两者都带
	if row := result.Review[1]; row.Correct || row.CorrectAnswer != "B" || row.Explanation != "e2" {
		t.Errorf("wrong row must carry corrections: %+v", row)
	}
	// 未作答的行用固定占位标签
	if row := result.Review[3]; row.RecordedAnswer != "Não respondida" || row.Correct {
		t.Errorf("unanswered row mislabeled: %+v", row)
	}
}

func TestFlashcardNavigation(t *testing.T) {
	client := &fakeGenaiClient{jsonResult: flashcardBatchJSON(t, 3)}
	svc, _, _ := studyFixture(t, client)
	if _, err := svc.GenerateFlashcards(context.Background(), 1, "t1"); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if err := svc.FlipCard(1, "t1"); err != nil {
		t.Fatalf("flip failed: %v", err)
	}
	snap, _ := svc.View(1, "t1")
	if !snap.Flashcards.Flipped {
		t.Fatal("card should be flipped")
	}

	// 游标移动复位翻面
	if err := svc.NextCard(1, "t1"); err != nil {
		t.Fatalf("next failed: %v", err)
	}
	snap, _ = svc.View(1, "t1")
	if snap.Flashcards.Cursor != 1 || snap.Flashcards.Flipped {
		t.Errorf("move must advance and reset flip: %+v", snap.Flashcards)
	}

	// 到底后不回绕
	_ = svc.NextCard(1, "t1")
	_ = svc.NextCard(1, "t1")
	_ = svc.NextCard(1, "t1")
	snap, _ = svc.View(1, "t1")
	if snap.Flashcards.Cursor != 2 {
		t.Errorf("cursor must stop at the last card, got %d", snap.Flashcards.Cursor)
	}

	// 到头后不回绕
	_ = svc.PrevCard(1, "t1")
	_ = svc.PrevCard(1, "t1")
	_ = svc.PrevCard(1, "t1")
	snap, _ = svc.View(1, "t1")
	if snap.Flashcards.Cursor != 0 {
		t.Errorf("cursor must stop at the first card, got %d", snap.Flashcards.Cursor)
	}
}

func TestCloseViewReturnsToChat(t *testing.T) {
	client := &fakeGenaiClient{jsonResult: quizBatchJSON(t, 5)}
	svc, chatSvc, _ := studyFixture(t, client)
	if _, err := svc.GenerateQuiz(context.Background(), 1, "t1"); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if err := svc.CloseView(1, "t1"); err != nil {
		t.Fatalf("close view failed: %v", err)
	}
	snap, _ := svc.View(1, "t1")
	if snap.View != ViewChat || snap.Quiz != nil {
		t.Errorf("expected chat view with transient state dropped, got %+v", snap)
	}
	history, _ := chatSvc.History(1, "t1")
	if len(history) != 1 {
		t.Errorf("transcript must survive view changes, got %d messages", len(history))
	}
}

func TestQuizOperationsRequireQuizView(t *testing.T) {
	client := &fakeGenaiClient{}
	svc, _, _ := studyFixture(t, client)

	if err := svc.AnswerQuiz(1, "t1", "A"); !errors.Is(err, ErrWrongView) {
		t.Errorf("expected ErrWrongView, got %v", err)
	}
	if _, err := svc.SubmitQuiz(1, "t1", true); !errors.Is(err, ErrWrongView) {
		t.Errorf("expected ErrWrongView, got %v", err)
	}
	if err := svc.FlipCard(1, "t1"); !errors.Is(err, ErrWrongView) {
		t.Errorf("expected ErrWrongView, got %v", err)
	}
}

func TestStudyOperationsWithoutSession(t *testing.T) {
	client := &fakeGenaiClient{}
	convRepo := newFakeConversationRepo()
	svc := NewStudyService(NewSessionManager(), convRepo, client)

	if _, err := svc.GenerateQuiz(context.Background(), 1, "t1"); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
	if _, err := svc.View(1, "t1"); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestTopicHint(t *testing.T) {
	messages := []model.ChatMessage{
		{Author: model.AuthorModel, Text: "olá"},
		{Author: model.AuthorUser, Text: "primeira"},
		{Author: model.AuthorModel, Text: "resposta"},
		{Author: model.AuthorUser, Text: "segunda"},
		{Author: model.AuthorUser, Text: "terceira"},
		{Author: model.AuthorUser, Text: "quarta"},
	}
	// 只取最近三条用户消息，保持时间顺序
	if got := topicHint(messages, "História"); got != "segunda\nterceira\nquarta" {
		t.Errorf("unexpected topic hint: %q", got)
	}

	onlyModel := []model.ChatMessage{{Author: model.AuthorModel, Text: "olá"}}
	if got := topicHint(onlyModel, "História"); got != "os conceitos fundamentais de História" {
		t.Errorf("expected subject fallback, got %q", got)
	}
}
