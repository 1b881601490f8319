package model

// QuizQuestion 代表一道四选一的测验题，CorrectAnswer 必须是 Options 之一。
type QuizQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
}

// Flashcard 代表一张问答式记忆卡片。
type Flashcard struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}
