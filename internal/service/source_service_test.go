package service

import (
	"context"
	"errors"
	"testing"
	"tutoria-go/internal/model"
	"tutoria-go/pkg/genai"
)

func TestSourceSearchBlankQuery(t *testing.T) {
	svc := NewSourceService(&fakeGenaiClient{})
	if _, err := svc.Search(context.Background(), "   ", nil); !errors.Is(err, ErrBlankQuery) {
		t.Errorf("expected ErrBlankQuery, got %v", err)
	}
}

func TestSourceSearchFiltersCandidates(t *testing.T) {
	client := &fakeGenaiClient{groundedResult: &genai.ChatResult{
		Text: "resumo",
		Sources: []genai.Source{
			{URI: "https://example.com/a", Title: "A"},
			{URI: "https://example.com/a", Title: "A repetida"},
			{URI: "https://example.com/b", Title: "B"},
			{URI: "https://example.com/c", Title: ""},
			{URI: "", Title: "sem uri"},
			{URI: "caminho/relativo", Title: "relativa"},
			{URI: "https://example.com/d", Title: "D"},
		},
	}}
	svc := NewSourceService(client)

	existing := []model.WebSource{{URI: "https://example.com/b", Title: "já adicionada"}}
	got, err := svc.Search(context.Background(), "revolução francesa", existing)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %+v", got)
	}
	if got[0].URI != "https://example.com/a" || got[1].URI != "https://example.com/d" {
		t.Errorf("candidates out of order or wrong: %+v", got)
	}
}

func TestSourceSearchUpstreamFailure(t *testing.T) {
	client := &fakeGenaiClient{groundedErr: errors.New("upstream 503")}
	svc := NewSourceService(client)
	if _, err := svc.Search(context.Background(), "frações", nil); err == nil {
		t.Fatal("expected the upstream error to surface")
	}
}

func TestIsAbsoluteURI(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"https://example.com/a", true},
		{"http://example.com", true},
		{"ftp://example.com/arquivo", true},
		{"caminho/relativo", false},
		{"/absoluto-sem-host", false},
		{"mailto:alguem@example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isAbsoluteURI(tt.raw); got != tt.want {
			t.Errorf("isAbsoluteURI(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
