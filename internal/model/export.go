package model

import "time"

// ResultsExport is the top-level JSON structure for result export.
type ResultsExport struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Count       int                `json:"count"`
	Results     []SubmissionResult `json:"results"`
}

// SubmissionResult holds one submission for export.
type SubmissionResult struct {
	SubmissionID  int64               `json:"submission_id"`
	Ref           string              `json:"ref"`
	StudentName   string              `json:"student_name"`
	ClassNumber   string              `json:"class_number"`
	AttemptNumber int                 `json:"attempt_number"`
	TestTitle     string              `json:"test_title"`
	GradingMethod GradingMethod       `json:"grading_method"`
	Score         float64             `json:"score"`
	MaxScore      int                 `json:"max_score"`
	SubmittedAt   time.Time           `json:"submitted_at"`
	IPAddress     string              `json:"ip_address,omitempty"`
	ShortAnswers  []ShortAnswerResult `json:"short_answers"`
}

// ShortAnswerResult holds per-question grading provenance for export.
type ShortAnswerResult struct {
	QuestionID    int64         `json:"question_id"`
	Question      string        `json:"question"`
	Answer        string        `json:"answer"`
	Score         *int          `json:"score"`
	Comment       string        `json:"comment"`
	Graded        bool          `json:"graded"`
	Method        GradingMethod `json:"method"`
	AIScore       *int          `json:"ai_score,omitempty"`
	AIFeedback    string        `json:"ai_feedback,omitempty"`
	HumanReviewed bool          `json:"human_reviewed"`
}
