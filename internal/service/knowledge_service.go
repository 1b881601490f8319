package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"tutoria-go/internal/config"
	"tutoria-go/pkg/log"
	"tutoria-go/pkg/storage"
	"tutoria-go/pkg/tika"
)

const (
	maxFileSizeMB    = 10
	maxFileSizeBytes = maxFileSizeMB * 1024 * 1024
	chunkDelimiter   = "\n\n---\n\n"
)

// KnowledgeFile 是一个待提取的上传文件。
type KnowledgeFile struct {
	Name   string
	Size   int64
	Reader io.Reader
}

// KnowledgeChunk 是一个提取成功的、带来源文件名标签的文本块。
type KnowledgeChunk struct {
	FileName string `json:"fileName"`
	Content  string `json:"content"`
}

// KnowledgeRejection 记录一个被跳过的文件和面向用户的原因。
// 单个文件被拒不影响同批其他文件的处理。
type KnowledgeRejection struct {
	FileName string `json:"fileName"`
	Reason   string `json:"reason"`
}

// KnowledgeResult 是一批文件的提取结果。
type KnowledgeResult struct {
	Chunks     []KnowledgeChunk     `json:"chunks"`
	Rejections []KnowledgeRejection `json:"rejections"`
	// Knowledge 是全部文本块按分隔符拼接后的导师知识文本。
	Knowledge string `json:"knowledge"`
}

// KnowledgeService 定义了导师知识文件的提取操作。
type KnowledgeService interface {
	ExtractBatch(ctx context.Context, userID uint, files []KnowledgeFile) (*KnowledgeResult, error)
}

type knowledgeService struct {
	tikaClient *tika.Client
	minioCfg   config.MinIOConfig
}

// NewKnowledgeService 创建一个新的 KnowledgeService 实例。
func NewKnowledgeService(tikaClient *tika.Client, minioCfg config.MinIOConfig) KnowledgeService {
	return &knowledgeService{
		tikaClient: tikaClient,
		minioCfg:   minioCfg,
	}
}

// ExtractBatch 逐个处理一批文件：超限或扩展名不支持的文件被跳过并记录
// 原因，其余文件照常提取。原始文件归档到对象存储，归档失败只记录。
func (s *knowledgeService) ExtractBatch(ctx context.Context, userID uint, files []KnowledgeFile) (*KnowledgeResult, error) {
	result := &KnowledgeResult{}
	for _, file := range files {
		chunk, rejection := s.extractOne(ctx, userID, file)
		if rejection != nil {
			result.Rejections = append(result.Rejections, *rejection)
			continue
		}
		result.Chunks = append(result.Chunks, *chunk)
	}

	labeled := make([]string, 0, len(result.Chunks))
	for _, chunk := range result.Chunks {
		labeled = append(labeled, fmt.Sprintf("Conteúdo do arquivo: %s\n\n%s", chunk.FileName, chunk.Content))
	}
	result.Knowledge = strings.Join(labeled, chunkDelimiter)
	return result, nil
}

func (s *knowledgeService) extractOne(ctx context.Context, userID uint, file KnowledgeFile) (*KnowledgeChunk, *KnowledgeRejection) {
	if file.Size > maxFileSizeBytes {
		return nil, &KnowledgeRejection{
			FileName: file.Name,
			Reason: fmt.Sprintf("O arquivo \"%s\" é muito grande (%.2f MB). O tamanho máximo permitido é de %d MB.",
				file.Name, float64(file.Size)/1024/1024, maxFileSizeMB),
		}
	}

	ext := strings.ToLower(filepath.Ext(file.Name))
	switch ext {
	case ".txt", ".md", ".pdf", ".docx":
	default:
		return nil, &KnowledgeRejection{
			FileName: file.Name,
			Reason:   fmt.Sprintf("Tipo de arquivo não suportado: \"%s\". Por favor, carregue .txt, .md, .pdf, ou .docx", file.Name),
		}
	}

	data, err := io.ReadAll(io.LimitReader(file.Reader, maxFileSizeBytes+1))
	if err != nil {
		log.Errorf("failed to read uploaded file %s: %v", file.Name, err)
		return nil, processingRejection(file.Name)
	}
	if int64(len(data)) > maxFileSizeBytes {
		return nil, &KnowledgeRejection{
			FileName: file.Name,
			Reason: fmt.Sprintf("O arquivo \"%s\" é muito grande. O tamanho máximo permitido é de %d MB.",
				file.Name, maxFileSizeMB),
		}
	}

	s.archive(ctx, userID, file.Name, data)

	var content string
	switch ext {
	case ".txt", ".md":
		content = string(data)
	default:
		content, err = s.tikaClient.ExtractText(bytes.NewReader(data), file.Name)
		if err != nil {
			log.Errorf("failed to extract text from %s: %v", file.Name, err)
			return nil, processingRejection(file.Name)
		}
	}

	if strings.TrimSpace(content) == "" {
		return nil, processingRejection(file.Name)
	}
	return &KnowledgeChunk{FileName: file.Name, Content: strings.TrimSpace(content)}, nil
}

// archive 把原始文件存入对象存储，失败不阻断提取。
func (s *knowledgeService) archive(ctx context.Context, userID uint, fileName string, data []byte) {
	objectName := fmt.Sprintf("knowledge/%d/%s", userID, fileName)
	contentType := "application/octet-stream"
	if err := storage.PutObject(ctx, s.minioCfg.BucketName, objectName, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		log.Errorf("failed to archive knowledge file %s: %v", objectName, err)
	}
}

func processingRejection(fileName string) *KnowledgeRejection {
	return &KnowledgeRejection{
		FileName: fileName,
		Reason:   fmt.Sprintf("Ocorreu um erro ao processar o arquivo \"%s\". Ele pode estar corrompido ou em um formato inválido.", fileName),
	}
}
