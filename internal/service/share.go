package service

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"tutoria-go/internal/model"
)

// ShareParam 是分享链接中携带导师 JSON 的查询参数名。
const ShareParam = "tutorData"

// ErrInvalidSharePayload 表示分享负载不是合法的 base64 编码导师 JSON。
var ErrInvalidSharePayload = errors.New("invalid share payload")

// EncodeShareLink 把导师整体序列化为 base64 JSON，挂在公共地址的
// tutorData 查询参数上。编码与解码互为逆操作，所有字段都保留。
func EncodeShareLink(baseURL string, tutor *model.Tutor) (string, error) {
	data, err := json.Marshal(tutor)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tutor for sharing: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	return fmt.Sprintf("%s/?%s=%s", strings.TrimRight(baseURL, "/"), ShareParam, url.QueryEscape(encoded)), nil
}

// DecodeSharePayload 解码并校验一个分享负载。
// base64、JSON 或必填字段任一不合法都返回 ErrInvalidSharePayload。
func DecodeSharePayload(payload string) (*model.Tutor, error) {
	if payload == "" {
		return nil, ErrInvalidSharePayload
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrInvalidSharePayload
	}
	var tutor model.Tutor
	if err := json.Unmarshal(data, &tutor); err != nil {
		return nil, ErrInvalidSharePayload
	}
	if tutor.ID == "" || strings.TrimSpace(tutor.Name) == "" ||
		strings.TrimSpace(tutor.Subject) == "" || strings.TrimSpace(tutor.Persona) == "" {
		return nil, ErrInvalidSharePayload
	}
	return &tutor, nil
}

// DeepLinkPath 返回直达某导师聊天的规范路径。
func DeepLinkPath(tutorID string) string {
	return "/#/chat/" + tutorID
}
