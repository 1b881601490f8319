package service

import (
	"context"
	"sort"
	"sync"
	"tutoria-go/internal/model"
	"tutoria-go/pkg/genai"

	"gorm.io/gorm"
)

// fakeTutorRepo 是 TutorRepository 的内存实现。
type fakeTutorRepo struct {
	mu     sync.Mutex
	tutors map[string]*model.Tutor
}

func newFakeTutorRepo(seed ...*model.Tutor) *fakeTutorRepo {
	repo := &fakeTutorRepo{tutors: make(map[string]*model.Tutor)}
	for _, t := range seed {
		cp := *t
		repo.tutors[t.ID] = &cp
	}
	return repo
}

func (r *fakeTutorRepo) FindByUserID(userID uint) ([]model.Tutor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Tutor
	for _, t := range r.tutors {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *fakeTutorRepo) FindByID(id string) (*model.Tutor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tutors[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTutorRepo) Create(tutor *model.Tutor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *tutor
	r.tutors[tutor.ID] = &cp
	return nil
}

func (r *fakeTutorRepo) Update(tutor *model.Tutor) error {
	return r.Create(tutor)
}

func (r *fakeTutorRepo) Delete(id string, userID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tutors[id]; ok && t.UserID == userID {
		delete(r.tutors, id)
	}
	return nil
}

func (r *fakeTutorRepo) MinPosition(userID uint) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	min := 0
	found := false
	for _, t := range r.tutors {
		if t.UserID != userID {
			continue
		}
		if !found || t.Position < min {
			min = t.Position
			found = true
		}
	}
	return min, nil
}

// fakeConversationRepo 是 ConversationRepository 的内存实现。
// 保存是异步发生的，所有访问都走互斥锁。
type fakeConversationRepo struct {
	mu        sync.Mutex
	histories map[string][]model.ChatMessage
	getErr    error
	deleteErr error
	deleted   []string
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{histories: make(map[string][]model.ChatMessage)}
}

func (r *fakeConversationRepo) GetHistory(_ context.Context, tutorID string) ([]model.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	return append([]model.ChatMessage(nil), r.histories[tutorID]...), nil
}

func (r *fakeConversationRepo) SaveHistory(_ context.Context, tutorID string, messages []model.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histories[tutorID] = append([]model.ChatMessage(nil), messages...)
	return nil
}

func (r *fakeConversationRepo) DeleteHistory(_ context.Context, tutorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.histories, tutorID)
	r.deleted = append(r.deleted, tutorID)
	return nil
}

func (r *fakeConversationRepo) setHistory(tutorID string, messages []model.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histories[tutorID] = append([]model.ChatMessage(nil), messages...)
}

func (r *fakeConversationRepo) deletedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deleted...)
}

// fakeGenaiClient 是可编排的 genai.Client 替身。
// streamHook 在流式调用期间执行，用于模拟调用途中发生的会话变更。
type fakeGenaiClient struct {
	readyErr error

	streamResult *genai.ChatResult
	streamErr    error
	streamHook   func()

	jsonResult string
	jsonErr    error
	jsonHook   func()

	groundedResult *genai.ChatResult
	groundedErr    error
}

func (c *fakeGenaiClient) Ready() error {
	return c.readyErr
}

func (c *fakeGenaiClient) StreamGenerate(_ context.Context, _ genai.ChatRequest, _ genai.MessageWriter) (*genai.ChatResult, error) {
	if c.streamHook != nil {
		c.streamHook()
	}
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	if c.streamResult != nil {
		return c.streamResult, nil
	}
	return &genai.ChatResult{Text: "resposta do modelo"}, nil
}

func (c *fakeGenaiClient) GenerateJSON(_ context.Context, _ string, _ *genai.Schema) (string, error) {
	if c.jsonHook != nil {
		c.jsonHook()
	}
	return c.jsonResult, c.jsonErr
}

func (c *fakeGenaiClient) GroundedGenerate(_ context.Context, _ string) (*genai.ChatResult, error) {
	if c.groundedErr != nil {
		return nil, c.groundedErr
	}
	return c.groundedResult, nil
}
