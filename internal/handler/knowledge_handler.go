package handler

import (
	"net/http"
	"tutoria-go/internal/service"
	"tutoria-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// KnowledgeHandler 负责处理导师知识文件的上传提取请求。
type KnowledgeHandler struct {
	knowledgeService service.KnowledgeService
}

// NewKnowledgeHandler 创建一个新的 KnowledgeHandler 实例。
func NewKnowledgeHandler(knowledgeService service.KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{knowledgeService: knowledgeService}
}

// Extract 接收一批 multipart 文件并返回提取结果。
// 单个文件被拒不中断整批处理，被拒文件连同原因一起返回。
func (h *KnowledgeHandler) Extract(c *gin.Context) {
	user := currentUser(c)

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "Envio de arquivos inválido"})
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "Nenhum arquivo enviado"})
		return
	}

	files := make([]service.KnowledgeFile, 0, len(fileHeaders))
	opened := make([]interface{ Close() error }, 0, len(fileHeaders))
	for _, header := range fileHeaders {
		f, err := header.Open()
		if err != nil {
			log.Errorf("failed to open uploaded file %s: %v", header.Filename, err)
			continue
		}
		opened = append(opened, f)
		files = append(files, service.KnowledgeFile{
			Name:   header.Filename,
			Size:   header.Size,
			Reader: f,
		})
	}
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()

	result, err := h.knowledgeService.ExtractBatch(c.Request.Context(), user.ID, files)
	if err != nil {
		log.Errorf("knowledge extraction failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "Falha ao processar os arquivos"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": result})
}
