package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"tutoria-go/internal/model"
	"tutoria-go/pkg/genai"
)

// ErrBlankQuery 表示来源检索的查询为空。
var ErrBlankQuery = errors.New("search query is blank")

// SourceService 定义了导师编辑器的网络来源检索操作。
type SourceService interface {
	// Search 对查询发起一次带检索依据的生成，返回可添加的候选来源：
	// 与已添加来源按 URI 去重，且每个候选必须是格式合法的绝对 URI。
	Search(ctx context.Context, query string, existing []model.WebSource) ([]model.WebSource, error)
}

type sourceService struct {
	genaiClient genai.Client
}

// NewSourceService 创建一个新的 SourceService 实例。
func NewSourceService(genaiClient genai.Client) SourceService {
	return &sourceService{genaiClient: genaiClient}
}

// Search 检索候选来源。
func (s *sourceService) Search(ctx context.Context, query string, existing []model.WebSource) ([]model.WebSource, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrBlankQuery
	}

	promptText := fmt.Sprintf("Encontre fontes confiáveis na web sobre o tema a seguir e resuma brevemente o que cada uma oferece: %s", query)
	result, err := s.genaiClient.GroundedGenerate(ctx, promptText)
	if err != nil {
		return nil, fmt.Errorf("failed to search web sources: %w", err)
	}

	seen := make(map[string]struct{}, len(existing))
	for _, src := range existing {
		seen[src.URI] = struct{}{}
	}

	candidates := make([]model.WebSource, 0, len(result.Sources))
	for _, src := range result.Sources {
		if src.URI == "" || src.Title == "" {
			continue
		}
		if _, ok := seen[src.URI]; ok {
			continue
		}
		if !isAbsoluteURI(src.URI) {
			continue
		}
		seen[src.URI] = struct{}{}
		candidates = append(candidates, model.WebSource{URI: src.URI, Title: src.Title})
	}
	return candidates, nil
}

// isAbsoluteURI 要求候选来源能解析为带 scheme 和 host 的绝对 URI。
func isAbsoluteURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}
