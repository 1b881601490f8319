// Package genai 提供了与生成式模型 API（Gemini 风格）交互的客户端，
// 支持流式对话、带 JSON Schema 约束的结构化生成以及带检索依据的生成。
package genai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"tutoria-go/internal/config"

	"github.com/gorilla/websocket"
)

// MessageWriter defines an interface for writing WebSocket messages.
// This allows both a standard websocket.Conn and our interceptor to be used.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// discardWriter 丢弃所有分块，用于非流式（REST）调用路径。
type discardWriter struct{}

func (discardWriter) WriteMessage(int, []byte) error { return nil }

// Discard 返回一个丢弃所有输出的 MessageWriter。
func Discard() MessageWriter { return discardWriter{} }

// Message 表示一条角色消息，Role 为 "user" 或 "model"。
type Message struct {
	Role string
	Text string
}

// Source 表示模型回答所引用的一个网络来源。
type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// ChatRequest 描述一次对话生成请求。
type ChatRequest struct {
	SystemInstruction string
	History           []Message
	Text              string
	EnableSearch      bool
}

// ChatResult 封装一次生成的完整文本与引用来源。
type ChatResult struct {
	Text    string
	Sources []Source
}

// Schema 描述结构化生成的响应 JSON Schema（Gemini responseSchema 子集）。
type Schema struct {
	Type       string             `json:"type"`
	Items      *Schema            `json:"items,omitempty"`
	Properties map[string]*Schema `json:"properties,omitempty"`
	Required   []string           `json:"required,omitempty"`
}

// Client defines the interface for a generative model client.
type Client interface {
	// Ready 检查客户端配置是否可用（API Key、地址、模型名）。
	Ready() error
	// StreamGenerate 以系统指令 + 历史 + 新输入调用流式接口，将分块写入 writer，
	// 并在结束后返回完整文本与引用来源。
	StreamGenerate(ctx context.Context, req ChatRequest, writer MessageWriter) (*ChatResult, error)
	// GenerateJSON 发起一次受 schema 约束的结构化生成，返回原始 JSON 文本。
	GenerateJSON(ctx context.Context, prompt string, schema *Schema) (string, error)
	// GroundedGenerate 发起一次启用网络检索的生成，主要用于获取候选来源。
	GroundedGenerate(ctx context.Context, prompt string) (*ChatResult, error)
}

type geminiClient struct {
	cfg    config.GenAIConfig
	client *http.Client
}

// NewClient 根据配置创建一个新的生成式模型客户端。
func NewClient(cfg config.GenAIConfig) Client {
	return &geminiClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

// ---- 请求/响应结构（与 generateContent 协议对应） ----

type part struct {
	Text string `json:"text,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type tool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
}

type generationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
	ResponseSchema   *Schema  `json:"responseSchema,omitempty"`
}

type generateRequest struct {
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	Contents          []content         `json:"contents"`
	Tools             []tool            `json:"tools,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		GroundingMetadata *struct {
			GroundingChunks []struct {
				Web *struct {
					URI   string `json:"uri"`
					Title string `json:"title"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
}

// Ready 检查必要的配置项是否齐全。
func (c *geminiClient) Ready() error {
	if c.cfg.APIKey == "" {
		return errors.New("genai: api key is not configured")
	}
	if c.cfg.BaseURL == "" || c.cfg.Model == "" {
		return errors.New("genai: base url or model is not configured")
	}
	return nil
}

func (c *geminiClient) StreamGenerate(ctx context.Context, req ChatRequest, writer MessageWriter) (*ChatResult, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}
	if writer == nil {
		writer = Discard()
	}

	body := c.buildRequest(req.SystemInstruction, req.History, req.Text, req.EnableSearch, nil)
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.cfg.BaseURL, c.cfg.Model, c.cfg.APIKey)

	resp, err := c.post(ctx, url, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("genai api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var answer strings.Builder
	var sources []Source
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to read from stream: %w", err)
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(data) == "[DONE]" {
			break
		}

		var chunk generateResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Candidates) == 0 {
			continue
		}

		cand := chunk.Candidates[0]
		for _, p := range cand.Content.Parts {
			if p.Text == "" {
				continue
			}
			answer.WriteString(p.Text)
			if err := writer.WriteMessage(websocket.TextMessage, []byte(p.Text)); err != nil {
				return nil, fmt.Errorf("failed to write message to websocket: %w", err)
			}
		}
		sources = appendSources(sources, cand.GroundingMetadata)
	}

	return &ChatResult{Text: answer.String(), Sources: sources}, nil
}

func (c *geminiClient) GenerateJSON(ctx context.Context, prompt string, schema *Schema) (string, error) {
	if err := c.Ready(); err != nil {
		return "", err
	}

	genCfg := &generationConfig{
		ResponseMimeType: "application/json",
		ResponseSchema:   schema,
	}
	body := c.buildRequest("", nil, prompt, false, genCfg)
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.BaseURL, c.cfg.Model, c.cfg.APIKey)

	resp, err := c.post(ctx, url, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("genai api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode generate response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("genai: empty candidates in response")
	}

	var text strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return text.String(), nil
}

func (c *geminiClient) GroundedGenerate(ctx context.Context, prompt string) (*ChatResult, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}

	body := c.buildRequest("", nil, prompt, true, nil)
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.BaseURL, c.cfg.Model, c.cfg.APIKey)

	resp, err := c.post(ctx, url, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("genai api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode generate response: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return nil, errors.New("genai: empty candidates in response")
	}

	cand := parsed.Candidates[0]
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}
	return &ChatResult{
		Text:    text.String(),
		Sources: appendSources(nil, cand.GroundingMetadata),
	}, nil
}

// buildRequest 组装一次 generateContent 请求体。
// 未显式传入 genCfg 时，从全局配置注入生成参数（若非零值）。
func (c *geminiClient) buildRequest(sysInstr string, history []Message, text string, enableSearch bool, genCfg *generationConfig) *generateRequest {
	req := &generateRequest{}

	if sysInstr != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: sysInstr}}}
	}
	for _, m := range history {
		req.Contents = append(req.Contents, content{Role: m.Role, Parts: []part{{Text: m.Text}}})
	}
	req.Contents = append(req.Contents, content{Role: "user", Parts: []part{{Text: text}}})

	if enableSearch {
		req.Tools = []tool{{GoogleSearch: &struct{}{}}}
	}

	if genCfg == nil {
		genCfg = &generationConfig{}
	}
	if genCfg.Temperature == nil && c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		genCfg.Temperature = &t
	}
	if genCfg.TopP == nil && c.cfg.Generation.TopP != 0 {
		p := c.cfg.Generation.TopP
		genCfg.TopP = &p
	}
	if genCfg.MaxOutputTokens == nil && c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		genCfg.MaxOutputTokens = &m
	}
	if genCfg.Temperature != nil || genCfg.TopP != nil || genCfg.MaxOutputTokens != nil ||
		genCfg.ResponseMimeType != "" {
		req.GenerationConfig = genCfg
	}
	return req
}

func (c *geminiClient) post(ctx context.Context, url string, body *generateRequest) (*http.Response, error) {
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call genai api: %w", err)
	}
	return resp, nil
}

// appendSources 收集 grounding 元数据中同时具备 URI 和标题的来源。
func appendSources(sources []Source, meta *struct {
	GroundingChunks []struct {
		Web *struct {
			URI   string `json:"uri"`
			Title string `json:"title"`
		} `json:"web"`
	} `json:"groundingChunks"`
}) []Source {
	if meta == nil {
		return sources
	}
	for _, chunk := range meta.GroundingChunks {
		if chunk.Web == nil || chunk.Web.URI == "" || chunk.Web.Title == "" {
			continue
		}
		sources = append(sources, Source{URI: chunk.Web.URI, Title: chunk.Web.Title})
	}
	return sources
}
