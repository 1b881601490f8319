// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
	"tutoria-go/internal/service"
	"tutoria-go/pkg/genai"
	"tutoria-go/pkg/log"
	"tutoria-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// websocketTicketTTL 是一次性 WebSocket 握手凭证的有效期。
const websocketTicketTTL = time.Minute

// ChatHandler 负责处理对话会话的 REST 与 WebSocket 请求。
type ChatHandler struct {
	chatService service.ChatService
	userService service.UserService
	jwtManager  *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, userService service.UserService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		userService: userService,
		jwtManager:  jwtManager,
	}
}

// StartSession 打开（或重开）某导师的会话，返回当前消息列表。
func (h *ChatHandler) StartSession(c *gin.Context) {
	user := currentUser(c)
	messages, err := h.chatService.Start(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		respondChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": messages})
}

// GetHistory 返回会话当前的消息列表。
func (h *ChatHandler) GetHistory(c *gin.Context) {
	user := currentUser(c)
	messages, err := h.chatService.History(user.ID, c.Param("id"))
	if err != nil {
		respondChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": messages})
}

// SendRequest 定义了 REST 发送消息 API 的请求体结构。
type SendRequest struct {
	Text string `json:"text"`
}

// SendMessage 以一问一答的方式发送消息，不做流式下发。
func (h *ChatHandler) SendMessage(c *gin.Context) {
	user := currentUser(c)
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "Payload inválido"})
		return
	}

	reply, err := h.chatService.Send(c.Request.Context(), user.ID, c.Param("id"), req.Text, genai.Discard())
	if err != nil {
		respondChatError(c, err)
		return
	}
	if reply == nil {
		// 响应因会话被重开而丢弃
		c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": reply})
}

// ClearHistory 抹除持久化历史并把会话重置为问候语。
func (h *ChatHandler) ClearHistory(c *gin.Context) {
	user := currentUser(c)
	messages, err := h.chatService.Clear(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrNoSession) {
			respondChatError(c, err)
			return
		}
		log.Errorf("failed to clear history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "Não foi possível limpar o histórico. Tente novamente."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": messages})
}

// CloseSession 关闭某导师的会话。
func (h *ChatHandler) CloseSession(c *gin.Context) {
	user := currentUser(c)
	h.chatService.Close(user.ID, c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// GetWebsocketTicket 签发一个短时效的 WebSocket 握手凭证。
// 浏览器的 WebSocket 不便携带 Authorization 头，凭证走 URL。
func (h *ChatHandler) GetWebsocketTicket(c *gin.Context) {
	user := currentUser(c)
	ticket, err := h.jwtManager.GenerateTicket(user.ID, user.Username, websocketTicketTTL)
	if err != nil {
		log.Errorf("failed to issue websocket ticket: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "Falha ao emitir credencial"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"ticket": ticket}})
}

// wsMessage 是客户端经 WebSocket 发来的一条消息。
type wsMessage struct {
	TutorID string `json:"tutorId"`
	Text    string `json:"text"`
}

// wsChunkWriter 把模型分块包装成 {"chunk":"..."} 帧下发。
type wsChunkWriter struct {
	conn *websocket.Conn
}

// WriteMessage 满足 genai.MessageWriter 接口。
func (w *wsChunkWriter) WriteMessage(messageType int, data []byte) error {
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

// Handle 处理一个传入的 WebSocket 连接，逐条流式回答。
func (h *ChatHandler) Handle(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("ticket"))
	if err != nil || claims.Purpose != "websocket" {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "Credencial inválida"})
		return
	}

	user, err := h.userService.GetProfile(claims.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "Usuário não encontrado"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("websocket upgrade failed", err)
		return
	}
	defer conn.Close()

	log.Infof("websocket connection established for user %s", claims.Username)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("websocket read failed: %v", err)
			break
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.TutorID == "" {
			writeWsError(conn, "Mensagem inválida")
			continue
		}

		reply, err := h.chatService.Send(c.Request.Context(), user.ID, msg.TutorID, msg.Text, &wsChunkWriter{conn: conn})
		if err != nil {
			writeWsError(conn, chatErrorMessage(err))
			continue
		}
		if reply == nil {
			continue
		}

		completion := gin.H{
			"type":      "completion",
			"status":    "finished",
			"text":      reply.Text,
			"timestamp": time.Now().UnixMilli(),
		}
		if len(reply.Sources) > 0 {
			completion["sources"] = reply.Sources
		}
		b, _ := json.Marshal(completion)
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			log.Warnf("websocket write failed: %v", err)
			break
		}
	}
}

func writeWsError(conn *websocket.Conn, message string) {
	payload, _ := json.Marshal(gin.H{"type": "error", "message": message})
	_ = conn.WriteMessage(websocket.TextMessage, payload)
}

// chatErrorMessage 把会话错误翻译为面向用户的文案。
func chatErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrBlankMessage):
		return "A mensagem não pode estar vazia"
	case errors.Is(err, service.ErrBusy):
		return "Aguarde a resposta anterior terminar"
	case errors.Is(err, service.ErrNoSession):
		return "Nenhuma sessão ativa para este tutor"
	case errors.Is(err, service.ErrSessionUnusable):
		return "Desculpe, não consegui iniciar a sessão de chat. Verifique a configuração da API."
	default:
		return "Erro ao enviar a mensagem"
	}
}

// respondChatError 把会话错误翻译为响应信封。
func respondChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTutorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "Tutor não encontrado"})
	case errors.Is(err, service.ErrBlankMessage):
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": chatErrorMessage(err)})
	case errors.Is(err, service.ErrBusy), errors.Is(err, service.ErrNoSession), errors.Is(err, service.ErrSessionUnusable):
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": chatErrorMessage(err)})
	default:
		log.Errorf("chat operation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "Erro interno"})
	}
}
