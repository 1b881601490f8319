// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"tutoria-go/internal/model"
	"tutoria-go/internal/repository"
	"tutoria-go/pkg/log"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"gorm.io/gorm"
)

var (
	// ErrTutorNotFound 表示导师不存在或不属于当前用户。
	ErrTutorNotFound = errors.New("tutor not found")
	// ErrInvalidTutor 表示导师缺少必填字段或学科不合法。
	ErrInvalidTutor = errors.New("tutor is missing required fields")
)

// TutorService 定义了导师集合的业务操作。
type TutorService interface {
	// List 返回用户的导师列表；读取失败降级为空列表，只记录错误。
	List(userID uint) []model.Tutor
	Get(userID uint, id string) (*model.Tutor, error)
	Create(userID uint, input *model.Tutor) (*model.Tutor, error)
	Update(userID uint, id string, input *model.Tutor) (*model.Tutor, error)
	Delete(ctx context.Context, userID uint, id string) error
	// ImportShared 采纳一个分享的导师：同 ID 已存在时本地记录原样胜出，
	// 否则插入列表最前；两种情况下被导入的 ID 都是应选中的那个。
	ImportShared(userID uint, shared *model.Tutor) (*model.Tutor, error)
}

type tutorService struct {
	tutorRepo        repository.TutorRepository
	conversationRepo repository.ConversationRepository
	sessions         *SessionManager
}

// NewTutorService 创建一个新的 TutorService 实例。
func NewTutorService(tutorRepo repository.TutorRepository, conversationRepo repository.ConversationRepository, sessions *SessionManager) TutorService {
	return &tutorService{
		tutorRepo:        tutorRepo,
		conversationRepo: conversationRepo,
		sessions:         sessions,
	}
}

// List 返回用户的导师列表。
func (s *tutorService) List(userID uint) []model.Tutor {
	tutors, err := s.tutorRepo.FindByUserID(userID)
	if err != nil {
		log.Errorf("failed to load tutor list for user %d: %v", userID, err)
		return []model.Tutor{}
	}
	if tutors == nil {
		tutors = []model.Tutor{}
	}
	return tutors
}

// Get 返回用户的一个导师。
func (s *tutorService) Get(userID uint, id string) (*model.Tutor, error) {
	tutor, err := s.tutorRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTutorNotFound
		}
		return nil, fmt.Errorf("failed to load tutor: %w", err)
	}
	if tutor.UserID != userID {
		return nil, ErrTutorNotFound
	}
	return tutor, nil
}

// Create 校验并创建一个新导师，插入列表最前。
func (s *tutorService) Create(userID uint, input *model.Tutor) (*model.Tutor, error) {
	if err := validateTutor(input); err != nil {
		return nil, err
	}
	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate tutor id: %w", err)
	}

	tutor := normalizeTutor(input)
	tutor.ID = id
	tutor.UserID = userID
	tutor.CreatedAt = time.Now()
	if err := s.placeFirst(userID, tutor); err != nil {
		return nil, err
	}
	if err := s.tutorRepo.Create(tutor); err != nil {
		return nil, fmt.Errorf("failed to create tutor: %w", err)
	}
	return tutor, nil
}

// Update 整体替换导师字段，ID、创建时间、归属和列表位置保持不变。
func (s *tutorService) Update(userID uint, id string, input *model.Tutor) (*model.Tutor, error) {
	if err := validateTutor(input); err != nil {
		return nil, err
	}
	existing, err := s.Get(userID, id)
	if err != nil {
		return nil, err
	}

	tutor := normalizeTutor(input)
	tutor.ID = existing.ID
	tutor.UserID = existing.UserID
	tutor.CreatedAt = existing.CreatedAt
	tutor.Position = existing.Position
	if err := s.tutorRepo.Update(tutor); err != nil {
		return nil, fmt.Errorf("failed to update tutor: %w", err)
	}
	return tutor, nil
}

// Delete 删除导师并抹除其对话历史；历史删除失败只记录。
func (s *tutorService) Delete(ctx context.Context, userID uint, id string) error {
	if _, err := s.Get(userID, id); err != nil {
		return err
	}
	if err := s.tutorRepo.Delete(id, userID); err != nil {
		return fmt.Errorf("failed to delete tutor: %w", err)
	}
	if err := s.conversationRepo.DeleteHistory(ctx, id); err != nil {
		log.Errorf("failed to erase history of deleted tutor %s: %v", id, err)
	}
	s.sessions.RemoveByTutor(id)
	return nil
}

// ImportShared 采纳一个分享的导师。
func (s *tutorService) ImportShared(userID uint, shared *model.Tutor) (*model.Tutor, error) {
	if shared.ID == "" {
		return nil, ErrInvalidTutor
	}
	if err := validateTutor(shared); err != nil {
		return nil, err
	}

	existing, err := s.tutorRepo.FindByID(shared.ID)
	if err == nil {
		if existing.UserID == userID {
			// 本地已有同 ID 记录，本地版本原样胜出
			return existing, nil
		}
		// ID 被其他用户占用，重铸一个新 ID 后采纳
		newID, genErr := gonanoid.New()
		if genErr != nil {
			return nil, fmt.Errorf("failed to generate tutor id: %w", genErr)
		}
		shared.ID = newID
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up shared tutor: %w", err)
	}

	tutor := normalizeTutor(shared)
	tutor.ID = shared.ID
	tutor.UserID = userID
	tutor.CreatedAt = shared.CreatedAt
	if tutor.CreatedAt.IsZero() {
		tutor.CreatedAt = time.Now()
	}
	if err := s.placeFirst(userID, tutor); err != nil {
		return nil, err
	}
	if err := s.tutorRepo.Create(tutor); err != nil {
		return nil, fmt.Errorf("failed to import shared tutor: %w", err)
	}
	return tutor, nil
}

// placeFirst 把导师放到用户列表最前（最小位置值减一）。
func (s *tutorService) placeFirst(userID uint, tutor *model.Tutor) error {
	min, err := s.tutorRepo.MinPosition(userID)
	if err != nil {
		return fmt.Errorf("failed to compute tutor position: %w", err)
	}
	tutor.Position = min - 1
	return nil
}

// validateTutor 检查必填字段与学科合法性。
func validateTutor(t *model.Tutor) error {
	if t == nil {
		return ErrInvalidTutor
	}
	if strings.TrimSpace(t.Name) == "" || strings.TrimSpace(t.Persona) == "" {
		return ErrInvalidTutor
	}
	if !model.IsValidSubject(t.Subject) {
		return ErrInvalidTutor
	}
	return nil
}

// normalizeTutor 返回一份去重来源、重算 webSearch 派生标志后的副本。
func normalizeTutor(input *model.Tutor) *model.Tutor {
	tutor := *input
	tutor.WebSources = dedupeWebSources(input.WebSources)
	tutor.Tools.WebSearch = len(tutor.WebSources) > 0
	return &tutor
}

// dedupeWebSources 按 URI 去重，保持原有顺序。
func dedupeWebSources(sources model.WebSourceList) model.WebSourceList {
	if len(sources) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(sources))
	out := make(model.WebSourceList, 0, len(sources))
	for _, src := range sources {
		if src.URI == "" {
			continue
		}
		if _, ok := seen[src.URI]; ok {
			continue
		}
		seen[src.URI] = struct{}{}
		out = append(out, src)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
