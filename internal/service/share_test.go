package service

import (
	"encoding/base64"
	"errors"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"
	"tutoria-go/internal/model"
)

func sampleTutor() *model.Tutor {
	return &model.Tutor{
		ID:        "abc123",
		Name:      "Professor Carlos",
		Subject:   "Matemática",
		Persona:   "Você é um professor de matemática direto e bem-humorado.",
		Knowledge: "Frações representam partes de um todo.",
		WebSources: model.WebSourceList{
			{URI: "https://example.com/fracoes", Title: "Guia de Frações"},
		},
		Tools:     model.ToolSet{WebSearch: true, QuizGenerator: true},
		CreatedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestShareLinkRoundTrip(t *testing.T) {
	tutor := sampleTutor()

	link, err := EncodeShareLink("http://localhost:5173", tutor)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if !strings.HasPrefix(link, "http://localhost:5173/?tutorData=") {
		t.Fatalf("unexpected link shape: %s", link)
	}

	parsed, err := url.Parse(link)
	if err != nil {
		t.Fatalf("link is not a valid URL: %v", err)
	}
	payload := parsed.Query().Get(ShareParam)
	if payload == "" {
		t.Fatal("link carries no share payload")
	}

	decoded, err := DecodeSharePayload(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.ID != tutor.ID || decoded.Name != tutor.Name ||
		decoded.Subject != tutor.Subject || decoded.Persona != tutor.Persona ||
		decoded.Knowledge != tutor.Knowledge {
		t.Errorf("decoded tutor differs from original: %+v", decoded)
	}
	if !reflect.DeepEqual(decoded.WebSources, tutor.WebSources) {
		t.Errorf("web sources not preserved: %+v", decoded.WebSources)
	}
	if decoded.Tools != tutor.Tools {
		t.Errorf("tool switches not preserved: %+v", decoded.Tools)
	}
}

func TestEncodeShareLinkTrimsTrailingSlash(t *testing.T) {
	link, err := EncodeShareLink("http://localhost:5173/", sampleTutor())
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if strings.Contains(link, "//?") {
		t.Errorf("base URL trailing slash not trimmed: %s", link)
	}
}

func TestDecodeSharePayloadRejectsInvalid(t *testing.T) {
	valid := func(mutate func(*model.Tutor)) string {
		tutor := sampleTutor()
		mutate(tutor)
		link, err := EncodeShareLink("http://localhost:5173", tutor)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		parsed, _ := url.Parse(link)
		return parsed.Query().Get(ShareParam)
	}

	tests := []struct {
		name    string
		payload string
	}{
		{"empty payload", ""},
		{"not base64", "%%%não-base64%%%"},
		{"base64 of non JSON", base64.StdEncoding.EncodeToString([]byte("isto não é JSON"))},
		{"missing id", valid(func(tu *model.Tutor) { tu.ID = "" })},
		{"blank name", valid(func(tu *model.Tutor) { tu.Name = "   " })},
		{"blank subject", valid(func(tu *model.Tutor) { tu.Subject = "" })},
		{"blank persona", valid(func(tu *model.Tutor) { tu.Persona = "\t\n" })},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeSharePayload(tt.payload); !errors.Is(err, ErrInvalidSharePayload) {
				t.Errorf("expected ErrInvalidSharePayload, got %v", err)
			}
		})
	}
}

func TestDeepLinkPath(t *testing.T) {
	if got := DeepLinkPath("abc123"); got != "/#/chat/abc123" {
		t.Errorf("unexpected deep link path: %s", got)
	}
}
