// Package prompt 负责把导师人设组装成完整的系统指令。
// 组装是纯函数：同一个导师总是产生同一个指令串。
package prompt

import (
	"fmt"
	"strings"
	"tutoria-go/internal/model"
)

// Capability 枚举导师的附加能力，声明顺序即指令段落的追加顺序。
type Capability int

const (
	CapabilityWebSearch Capability = iota
	CapabilityQuizGenerator
	CapabilityConceptExplainer
	CapabilityScenarioSimulator
	CapabilityAdaptiveLearning
	CapabilityFlashcardGenerator
	CapabilitySelfReflection
	CapabilityChainOfThought
	CapabilityTreeOfThoughts
)

// AllCapabilities 按声明顺序返回全部能力。
func AllCapabilities() []Capability {
	return []Capability{
		CapabilityWebSearch,
		CapabilityQuizGenerator,
		CapabilityConceptExplainer,
		CapabilityScenarioSimulator,
		CapabilityAdaptiveLearning,
		CapabilityFlashcardGenerator,
		CapabilitySelfReflection,
		CapabilityChainOfThought,
		CapabilityTreeOfThoughts,
	}
}

// String 返回能力的标志名。
func (c Capability) String() string {
	switch c {
	case CapabilityWebSearch:
		return "webSearch"
	case CapabilityQuizGenerator:
		return "quizGenerator"
	case CapabilityConceptExplainer:
		return "conceptExplainer"
	case CapabilityScenarioSimulator:
		return "scenarioSimulator"
	case CapabilityAdaptiveLearning:
		return "adaptiveLearning"
	case CapabilityFlashcardGenerator:
		return "flashcardGenerator"
	case CapabilitySelfReflection:
		return "selfReflection"
	case CapabilityChainOfThought:
		return "chainOfThought"
	case CapabilityTreeOfThoughts:
		return "treeOfThoughts"
	default:
		return "unknown"
	}
}

// Instruction 返回该能力对应的固定指令段落（不含前导空行）。
func (c Capability) Instruction() string {
	switch c {
	case CapabilityWebSearch:
		return "CAPACIDADE ADICIONAL: Você pode usar a busca na web para fundamentar suas respostas. Sempre que usar informações da web, cite as fontes consultadas para que o aluno possa verificá-las."
	case CapabilityQuizGenerator:
		return "CAPACIDADE ADICIONAL: Você também é um Gerador de Quiz. Se o aluno pedir um quiz, um teste, ou para ser testado, crie perguntas (múltipla escolha ou dissertativas) com base no seu conhecimento. Sempre forneça as respostas corretas e explicações depois que o aluno tentar responder."
	case CapabilityConceptExplainer:
		return "CAPACIDADE ADICIONAL: Você também é um Explicador de Conceitos. Se o aluno pedir para explicar um tópico complexo, divida-o em partes simples, use analogias e explique como se estivesse falando com um iniciante."
	case CapabilityScenarioSimulator:
		return "CAPACIDADE ADICIONAL: Você também é um Simulador de Cenários. Se o aluno pedir para iniciar uma simulação ou um role-play, você deve assumir o papel de um personagem (como uma figura histórica, um personagem de livro, etc.) e interagir com o aluno para ajudá-lo a praticar ou entender uma situação."
	case CapabilityAdaptiveLearning:
		return "CAPACIDADE ADICIONAL: Você é um tutor adaptativo. Sua principal diretriz é avaliar continuamente o nível de compreensão do aluno com base em suas respostas. - Se o aluno demonstrar dificuldade ou cometer erros, você deve simplificar o conteúdo, usar analogias mais simples e dividir os problemas em etapas menores. - Se o aluno mostrar domínio e responder corretamente, você deve gradualmente aumentar a complexidade, introduzir tópicos relacionados e fazer perguntas mais desafiadoras. O objetivo é personalizar a experiência de aprendizado em tempo real para se adequar ao ritmo do aluno, mantendo-o engajado e desafiado na medida certa. Faça essa adaptação de forma natural na conversa."
	case CapabilityFlashcardGenerator:
		return "CAPACIDADE ADICIONAL: Você também é um Gerador de Flashcards. Se o aluno pedir flashcards ou cartões de estudo, crie pares de pergunta e resposta curtos e objetivos com base no conteúdo estudado, adequados para revisão e memorização."
	case CapabilitySelfReflection:
		return "CAPACIDADE ADICIONAL: Você pratica autorreflexão. Antes de apresentar uma resposta, revise-a criticamente em busca de erros, imprecisões ou lacunas, e corrija-a se necessário. Apresente ao aluno apenas a versão revisada."
	case CapabilityChainOfThought:
		return "CAPACIDADE ADICIONAL: Você raciocina passo a passo. Ao resolver problemas ou explicar conclusões, mostre o encadeamento do seu raciocínio em etapas numeradas e claras, para que o aluno possa acompanhar como você chegou à resposta."
	case CapabilityTreeOfThoughts:
		return "CAPACIDADE ADICIONAL: Você explora múltiplas linhas de raciocínio. Diante de um problema aberto, considere caminhos alternativos de solução, compare-os brevemente e explique ao aluno por que escolheu o caminho final."
	default:
		return ""
	}
}

// enabledIn 判断能力在该开关集合中是否开启。
func (c Capability) enabledIn(tools model.ToolSet) bool {
	switch c {
	case CapabilityWebSearch:
		return tools.WebSearch
	case CapabilityQuizGenerator:
		return tools.QuizGenerator
	case CapabilityConceptExplainer:
		return tools.ConceptExplainer
	case CapabilityScenarioSimulator:
		return tools.ScenarioSimulator
	case CapabilityAdaptiveLearning:
		return tools.AdaptiveLearning
	case CapabilityFlashcardGenerator:
		return tools.FlashcardGenerator
	case CapabilitySelfReflection:
		return tools.SelfReflection
	case CapabilityChainOfThought:
		return tools.ChainOfThought
	case CapabilityTreeOfThoughts:
		return tools.TreeOfThoughts
	default:
		return false
	}
}

const knowledgeBlock = `Sua tarefa é responder às perguntas do aluno usando APENAS as informações fornecidas no documento de contexto abaixo.

Analise o documento e encontre os trechos mais relevantes para a pergunta. Baseie sua resposta inteiramente nesses trechos.

Se a resposta não puder ser encontrada no documento, afirme claramente: "Não encontrei a resposta para isso no material de apoio." Não tente responder com conhecimento geral.

### CONTEXTO DO DOCUMENTO ###
%s
### FIM DO CONTEXTO ###`

const noDocumentBlock = `Nenhum documento de apoio foi fornecido. Use seu conhecimento geral para responder às perguntas do aluno. Se o aluno fizer referência a um material de apoio, diga claramente que nenhum material foi fornecido.`

// Compose 按固定顺序组装系统指令：
// 人设 → 文档上下文块（或无文档块）→ 优先来源列表 → 各启用能力的固定段落。
func Compose(t *model.Tutor) string {
	var sb strings.Builder
	sb.WriteString(t.Persona)

	sb.WriteString("\n\n")
	if strings.TrimSpace(t.Knowledge) != "" {
		sb.WriteString(fmt.Sprintf(knowledgeBlock, t.Knowledge))
	} else {
		sb.WriteString(noDocumentBlock)
	}

	if len(t.WebSources) > 0 {
		sb.WriteString("\n\nFONTES PRIORITÁRIAS: Ao usar a busca na web, priorize as seguintes fontes:\n")
		for i, src := range t.WebSources {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(fmt.Sprintf("%s: %s", src.Title, src.URI))
		}
	}

	for _, c := range AllCapabilities() {
		if c.enabledIn(t.Tools) {
			sb.WriteString("\n\n")
			sb.WriteString(c.Instruction())
		}
	}

	return sb.String()
}
