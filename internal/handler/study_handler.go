package handler

import (
	"errors"
	"net/http"
	"tutoria-go/internal/service"
	"tutoria-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// StudyHandler 负责处理测验、卡片生成与视图状态机的请求。
type StudyHandler struct {
	studyService service.StudyService
}

// NewStudyHandler 创建一个新的 StudyHandler 实例。
func NewStudyHandler(studyService service.StudyService) *StudyHandler {
	return &StudyHandler{studyService: studyService}
}

// GenerateQuiz 基于最近的对话生成一批测验题并切换到测验视图。
func (h *StudyHandler) GenerateQuiz(c *gin.Context) {
	user := currentUser(c)
	questions, err := h.studyService.GenerateQuiz(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		respondStudyError(c, err)
		return
	}
	if questions == nil {
		c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": questions})
}

// GenerateFlashcards 基于最近的对话生成一副卡片并切换到卡片视图。
func (h *StudyHandler) GenerateFlashcards(c *gin.Context) {
	user := currentUser(c)
	cards, err := h.studyService.GenerateFlashcards(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		respondStudyError(c, err)
		return
	}
	if cards == nil {
		c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": cards})
}

// GetView 返回会话视图状态机的当前快照。
func (h *StudyHandler) GetView(c *gin.Context) {
	user := currentUser(c)
	snapshot, err := h.studyService.View(user.ID, c.Param("id"))
	if err != nil {
		respondStudyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": snapshot})
}

// CloseView 从测验或卡片视图回到聊天视图。
func (h *StudyHandler) CloseView(c *gin.Context) {
	user := currentUser(c)
	if err := h.studyService.CloseView(user.ID, c.Param("id")); err != nil {
		respondStudyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// AnswerRequest 定义了作答 API 的请求体结构。
type AnswerRequest struct {
	Answer string `json:"answer" binding:"required"`
}

// AnswerQuiz 记录当前题目的答案。
func (h *StudyHandler) AnswerQuiz(c *gin.Context) {
	user := currentUser(c)
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "Payload inválido"})
		return
	}
	if err := h.studyService.AnswerQuiz(user.ID, c.Param("id"), req.Answer); err != nil {
		respondStudyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// NextQuestion 前进一题；当前题未作答时游标不动。
func (h *StudyHandler) NextQuestion(c *gin.Context) {
	user := currentUser(c)
	if err := h.studyService.NextQuestion(user.ID, c.Param("id")); err != nil {
		respondStudyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// PrevQuestion 后退一题。
func (h *StudyHandler) PrevQuestion(c *gin.Context) {
	user := currentUser(c)
	if err := h.studyService.PrevQuestion(user.ID, c.Param("id")); err != nil {
		respondStudyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// SubmitRequest 定义了交卷 API 的请求体结构。
type SubmitRequest struct {
	Confirmed bool `json:"confirmed"`
}

// SubmitQuiz 判分；存在未作答题目且未确认时要求二次确认。
func (h *StudyHandler) SubmitQuiz(c *gin.Context) {
	user := currentUser(c)
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req = SubmitRequest{}
	}

	result, err := h.studyService.SubmitQuiz(user.ID, c.Param("id"), req.Confirmed)
	if err != nil {
		if errors.Is(err, service.ErrConfirmRequired) {
			c.JSON(http.StatusConflict, gin.H{
				"code":    http.StatusConflict,
				"message": "Você não respondeu todas as perguntas. Deseja finalizar mesmo assim?",
				"data":    gin.H{"confirmRequired": true},
			})
			return
		}
		respondStudyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": result})
}

// NextCard 前进一张卡片。
func (h *StudyHandler) NextCard(c *gin.Context) {
	user := currentUser(c)
	if err := h.studyService.NextCard(user.ID, c.Param("id")); err != nil {
		respondStudyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// PrevCard 后退一张卡片。
func (h *StudyHandler) PrevCard(c *gin.Context) {
	user := currentUser(c)
	if err := h.studyService.PrevCard(user.ID, c.Param("id")); err != nil {
		respondStudyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// FlipCard 翻转当前卡片。
func (h *StudyHandler) FlipCard(c *gin.Context) {
	user := currentUser(c)
	if err := h.studyService.FlipCard(user.ID, c.Param("id")); err != nil {
		respondStudyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// respondStudyError 把学习服务的错误翻译为响应信封。
func respondStudyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNoSession):
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "Nenhuma sessão ativa para este tutor"})
	case errors.Is(err, service.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "Aguarde a geração anterior terminar"})
	case errors.Is(err, service.ErrWrongView):
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "Operação não permitida na visão atual"})
	case errors.Is(err, service.ErrSessionUnusable):
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "Desculpe, não consegui iniciar a sessão de chat. Verifique a configuração da API."})
	case errors.Is(err, service.ErrInvalidAnswer):
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "A resposta deve ser uma das opções"})
	case errors.Is(err, service.ErrGenerationFailed):
		c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "message": "Desculpe, não consegui concluir a geração. Por favor, tente novamente."})
	default:
		log.Errorf("study operation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "Erro interno"})
	}
}
