package prompt

import (
	"strings"
	"testing"
	"tutoria-go/internal/model"
)

func baseTutor() *model.Tutor {
	return &model.Tutor{
		ID:      "t1",
		Name:    "Professora Ana",
		Subject: "História",
		Persona: "Você é uma professora de história paciente e entusiasmada.",
	}
}

func TestComposeDeterministic(t *testing.T) {
	tutor := baseTutor()
	tutor.Knowledge = "A Revolução Francesa começou em 1789."
	tutor.WebSources = model.WebSourceList{{URI: "https://example.com/a", Title: "Fonte A"}}
	tutor.Tools = model.ToolSet{WebSearch: true, QuizGenerator: true, ChainOfThought: true}

	first := Compose(tutor)
	for i := 0; i < 5; i++ {
		if got := Compose(tutor); got != first {
			t.Fatalf("compose is not deterministic: call %d differs", i)
		}
	}
}

func TestComposeStartsWithPersona(t *testing.T) {
	tutor := baseTutor()
	if got := Compose(tutor); !strings.HasPrefix(got, tutor.Persona) {
		t.Fatalf("instruction does not start with persona: %q", got)
	}
}

func TestComposeKnowledgeBlocks(t *testing.T) {
	tests := []struct {
		name        string
		knowledge   string
		wantClause  string
		notClause   string
	}{
		{
			name:       "with knowledge",
			knowledge:  "A fotossíntese converte luz em energia química.",
			wantClause: "### CONTEXTO DO DOCUMENTO ###",
			notClause:  "Nenhum documento de apoio foi fornecido",
		},
		{
			name:       "blank knowledge",
			knowledge:  "   \n\t",
			wantClause: "Nenhum documento de apoio foi fornecido",
			notClause:  "### CONTEXTO DO DOCUMENTO ###",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tutor := baseTutor()
			tutor.Knowledge = tt.knowledge
			got := Compose(tutor)
			if !strings.Contains(got, tt.wantClause) {
				t.Errorf("instruction missing clause %q", tt.wantClause)
			}
			if strings.Contains(got, tt.notClause) {
				t.Errorf("instruction unexpectedly contains clause %q", tt.notClause)
			}
		})
	}
}

func TestComposeKnowledgeFallbackSentence(t *testing.T) {
	tutor := baseTutor()
	tutor.Knowledge = "conteúdo"
	got := Compose(tutor)
	want := `"Não encontrei a resposta para isso no material de apoio."`
	if !strings.Contains(got, want) {
		t.Fatalf("instruction missing the exact fallback sentence %s", want)
	}
}

func TestComposeWebSourcesBlock(t *testing.T) {
	tutor := baseTutor()
	tutor.WebSources = model.WebSourceList{
		{URI: "https://example.com/a", Title: "Fonte A"},
		{URI: "https://example.com/b", Title: "Fonte B"},
	}

	got := Compose(tutor)
	if !strings.Contains(got, "FONTES PRIORITÁRIAS") {
		t.Fatal("instruction missing the priority sources block")
	}
	if !strings.Contains(got, "Fonte A: https://example.com/a") {
		t.Error("instruction missing the first source line")
	}
	if !strings.Contains(got, "Fonte B: https://example.com/b") {
		t.Error("instruction missing the second source line")
	}

	tutor.WebSources = nil
	if strings.Contains(Compose(tutor), "FONTES PRIORITÁRIAS") {
		t.Error("instruction without sources must not carry the priority block")
	}
}

func TestComposeCapabilityParagraphs(t *testing.T) {
	toggles := []struct {
		capability Capability
		set        func(*model.ToolSet)
	}{
		{CapabilityWebSearch, func(s *model.ToolSet) { s.WebSearch = true }},
		{CapabilityQuizGenerator, func(s *model.ToolSet) { s.QuizGenerator = true }},
		{CapabilityConceptExplainer, func(s *model.ToolSet) { s.ConceptExplainer = true }},
		{CapabilityScenarioSimulator, func(s *model.ToolSet) { s.ScenarioSimulator = true }},
		{CapabilityAdaptiveLearning, func(s *model.ToolSet) { s.AdaptiveLearning = true }},
		{CapabilityFlashcardGenerator, func(s *model.ToolSet) { s.FlashcardGenerator = true }},
		{CapabilitySelfReflection, func(s *model.ToolSet) { s.SelfReflection = true }},
		{CapabilityChainOfThought, func(s *model.ToolSet) { s.ChainOfThought = true }},
		{CapabilityTreeOfThoughts, func(s *model.ToolSet) { s.TreeOfThoughts = true }},
	}

	base := Compose(baseTutor())
	for _, tt := range toggles {
		t.Run(tt.capability.String(), func(t *testing.T) {
			tutor := baseTutor()
			tt.set(&tutor.Tools)
			got := Compose(tutor)

			paragraph := tt.capability.Instruction()
			if paragraph == "" {
				t.Fatal("capability has no instruction paragraph")
			}
			if !strings.Contains(got, paragraph) {
				t.Fatalf("instruction missing the paragraph for %s", tt.capability)
			}
			// 打开一个开关只会追加它自己的段落
			if got != base+"\n\n"+paragraph {
				t.Errorf("enabling %s changed more than its own paragraph", tt.capability)
			}
		})
	}
}

func TestComposeCapabilityOrderFollowsDeclaration(t *testing.T) {
	tutor := baseTutor()
	// 按与声明相反的顺序打开，段落顺序仍应跟随声明顺序
	tutor.Tools.TreeOfThoughts = true
	tutor.Tools.QuizGenerator = true

	got := Compose(tutor)
	quizAt := strings.Index(got, CapabilityQuizGenerator.Instruction())
	treeAt := strings.Index(got, CapabilityTreeOfThoughts.Instruction())
	if quizAt < 0 || treeAt < 0 {
		t.Fatal("expected both capability paragraphs")
	}
	if quizAt > treeAt {
		t.Error("capability paragraphs are not in declaration order")
	}
}

func TestAllCapabilitiesTotal(t *testing.T) {
	caps := AllCapabilities()
	if len(caps) != 9 {
		t.Fatalf("expected 9 capabilities, got %d", len(caps))
	}
	seen := make(map[string]bool)
	for _, c := range caps {
		if c.Instruction() == "" {
			t.Errorf("capability %s has no paragraph", c)
		}
		if c.String() == "unknown" {
			t.Errorf("capability %d has no name", c)
		}
		if seen[c.String()] {
			t.Errorf("duplicate capability name %s", c)
		}
		seen[c.String()] = true
	}
}
