package handler

import (
	"errors"
	"net/http"
	"tutoria-go/internal/model"
	"tutoria-go/internal/service"
	"tutoria-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SourceHandler 负责处理导师编辑器的网络来源检索请求。
type SourceHandler struct {
	sourceService service.SourceService
}

// NewSourceHandler 创建一个新的 SourceHandler 实例。
func NewSourceHandler(sourceService service.SourceService) *SourceHandler {
	return &SourceHandler{sourceService: sourceService}
}

// SearchRequest 定义了来源检索 API 的请求体结构。
// Existing 是编辑器中已添加的来源，用于按 URI 排除重复候选。
type SearchRequest struct {
	Query    string            `json:"query" binding:"required"`
	Existing []model.WebSource `json:"existing"`
}

// Search 对查询发起一次带检索依据的生成并返回候选来源。
func (h *SourceHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "A consulta não pode estar vazia"})
		return
	}

	sources, err := h.sourceService.Search(c.Request.Context(), req.Query, req.Existing)
	if err != nil {
		if errors.Is(err, service.ErrBlankQuery) {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "A consulta não pode estar vazia"})
			return
		}
		log.Errorf("web source search failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "message": "Falha ao buscar fontes na web. Tente novamente."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": sources})
}
