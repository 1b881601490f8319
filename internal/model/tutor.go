// Package model 包含了应用的数据模型定义。
package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// WebSource 表示导师优先引用的一个网络来源。
type WebSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// WebSourceList 以 JSON 列的形式存储有序的来源列表。
type WebSourceList []WebSource

// Value 实现 driver.Valuer，将列表序列化为 JSON 存入数据库。
func (l WebSourceList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner，从 JSON 列还原列表。
func (l *WebSourceList) Scan(value interface{}) error {
	if value == nil {
		*l = WebSourceList{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported type for WebSourceList")
	}
	if len(data) == 0 {
		*l = WebSourceList{}
		return nil
	}
	return json.Unmarshal(data, l)
}

// ToolSet 描述导师启用的附加能力开关。
// webSearch 是派生字段：有网络来源即为 true，保存时重算。
type ToolSet struct {
	WebSearch          bool `json:"webSearch"`
	QuizGenerator      bool `json:"quizGenerator"`
	ConceptExplainer   bool `json:"conceptExplainer"`
	ScenarioSimulator  bool `json:"scenarioSimulator"`
	AdaptiveLearning   bool `json:"adaptiveLearning"`
	FlashcardGenerator bool `json:"flashcardGenerator"`
	SelfReflection     bool `json:"selfReflection"`
	ChainOfThought     bool `json:"chainOfThought"`
	TreeOfThoughts     bool `json:"treeOfThoughts"`
}

// Value 实现 driver.Valuer。
func (t ToolSet) Value() (driver.Value, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner。
func (t *ToolSet) Scan(value interface{}) error {
	if value == nil {
		*t = ToolSet{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported type for ToolSet")
	}
	if len(data) == 0 {
		*t = ToolSet{}
		return nil
	}
	return json.Unmarshal(data, t)
}

// Tutor 代表一个用户创建的导师人设。
// Position 决定列表顺序，新建和导入的导师排在最前（取最小值减一）。
type Tutor struct {
	ID         string        `gorm:"primaryKey;type:varchar(32)" json:"id"`
	UserID     uint          `gorm:"index;not null" json:"-"`
	Name       string        `gorm:"type:varchar(255);not null" json:"name"`
	Subject    string        `gorm:"type:varchar(64);not null" json:"subject"`
	Persona    string        `gorm:"type:text;not null" json:"persona"`
	Knowledge  string        `gorm:"type:longtext" json:"knowledge,omitempty"`
	WebSources WebSourceList `gorm:"type:json" json:"webSources,omitempty"`
	Tools      ToolSet       `gorm:"type:json" json:"tools"`
	Position   int           `gorm:"not null;index" json:"-"`
	CreatedAt  time.Time     `gorm:"autoCreateTime" json:"createdAt"`
}

func (Tutor) TableName() string {
	return "tutors"
}

// SchoolSubjects 是可选学科的固定清单。
var SchoolSubjects = []string{
	"Artes",
	"Biologia",
	"Ciências",
	"Educação Física",
	"Filosofia",
	"Física",
	"Geografia",
	"História",
	"Inglês",
	"Literatura",
	"Matemática",
	"Português",
	"Química",
	"Redação",
	"Sociologia",
}

// IsValidSubject 检查学科是否在固定清单内。
func IsValidSubject(subject string) bool {
	for _, s := range SchoolSubjects {
		if s == subject {
			return true
		}
	}
	return false
}
