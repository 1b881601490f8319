package handler

import (
	"errors"
	"net/http"
	"tutoria-go/internal/config"
	"tutoria-go/internal/model"
	"tutoria-go/internal/service"
	"tutoria-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// TutorHandler 负责处理导师集合相关的 API 请求。
type TutorHandler struct {
	tutorService service.TutorService
}

// NewTutorHandler 创建一个新的 TutorHandler 实例。
func NewTutorHandler(tutorService service.TutorService) *TutorHandler {
	return &TutorHandler{tutorService: tutorService}
}

// List 返回当前用户的导师列表，按列表位置排序。
func (h *TutorHandler) List(c *gin.Context) {
	user := currentUser(c)
	tutors := h.tutorService.List(user.ID)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": tutors})
}

// Get 返回当前用户的一个导师。
func (h *TutorHandler) Get(c *gin.Context) {
	user := currentUser(c)
	tutor, err := h.tutorService.Get(user.ID, c.Param("id"))
	if err != nil {
		respondTutorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": tutor})
}

// Create 创建一个新导师。
func (h *TutorHandler) Create(c *gin.Context) {
	user := currentUser(c)
	var input model.Tutor
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "Payload inválido"})
		return
	}

	tutor, err := h.tutorService.Create(user.ID, &input)
	if err != nil {
		respondTutorError(c, err)
		return
	}
	log.Infof("Tutor '%s' created for user %d", tutor.ID, user.ID)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": tutor})
}

// Update 整体替换一个导师的字段。
func (h *TutorHandler) Update(c *gin.Context) {
	user := currentUser(c)
	var input model.Tutor
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "Payload inválido"})
		return
	}

	tutor, err := h.tutorService.Update(user.ID, c.Param("id"), &input)
	if err != nil {
		respondTutorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": tutor})
}

// Delete 删除一个导师及其对话历史。删除在客户端需要二次确认。
func (h *TutorHandler) Delete(c *gin.Context) {
	user := currentUser(c)
	if err := h.tutorService.Delete(c.Request.Context(), user.ID, c.Param("id")); err != nil {
		respondTutorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// ShareLink 返回携带导师完整定义的分享链接。
func (h *TutorHandler) ShareLink(c *gin.Context) {
	user := currentUser(c)
	tutor, err := h.tutorService.Get(user.ID, c.Param("id"))
	if err != nil {
		respondTutorError(c, err)
		return
	}

	link, err := service.EncodeShareLink(config.Conf.App.BaseURL, tutor)
	if err != nil {
		log.Errorf("failed to encode share link for tutor %s: %v", tutor.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "Falha ao gerar o link de compartilhamento"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"shareLink": link}})
}

// ImportRequest 定义了导入分享导师 API 的请求体结构。
type ImportRequest struct {
	TutorData string `json:"tutorData" binding:"required"`
}

// Import 解码分享负载并采纳该导师；负载不合法时返回裸路径，
// 成功时返回被选中导师的深链路径。
func (h *TutorHandler) Import(c *gin.Context) {
	user := currentUser(c)
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "Payload inválido", "data": gin.H{"redirect": "/"}})
		return
	}

	shared, err := service.DecodeSharePayload(req.TutorData)
	if err != nil {
		log.Warnf("Import: invalid share payload: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "Link de compartilhamento inválido", "data": gin.H{"redirect": "/"}})
		return
	}

	tutor, err := h.tutorService.ImportShared(user.ID, shared)
	if err != nil {
		respondTutorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"tutor":    tutor,
			"redirect": service.DeepLinkPath(tutor.ID),
		},
	})
}

// respondTutorError 把导师服务的错误翻译为响应信封。
func respondTutorError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTutorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "Tutor não encontrado"})
	case errors.Is(err, service.ErrInvalidTutor):
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "Por favor, preencha todos os campos obrigatórios."})
	default:
		log.Errorf("tutor operation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "Erro interno"})
	}
}
