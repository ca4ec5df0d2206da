package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student taking tests.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher manages banks, tests and reviews.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin can additionally manage accounts.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user. Students are created on first visit and
// have no password.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	ClassNumber  string    `json:"class_number,omitempty"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	Role      UserRole
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// QuestionType identifies how a question is answered and scored.
type QuestionType string

const (
	SingleChoice   QuestionType = "single_choice"
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	FillBlank      QuestionType = "fill_blank"
	ShortAnswer    QuestionType = "short_answer"
)

// QuestionTypes lists every supported type in display order.
var QuestionTypes = []QuestionType{SingleChoice, MultipleChoice, TrueFalse, FillBlank, ShortAnswer}

// Valid reports whether t is one of the supported question types.
func (t QuestionType) Valid() bool {
	switch t {
	case SingleChoice, MultipleChoice, TrueFalse, FillBlank, ShortAnswer:
		return true
	}
	return false
}

// Objective reports whether questions of this type are scored locally.
func (t QuestionType) Objective() bool {
	return t.Valid() && t != ShortAnswer
}

// HasOptions reports whether questions of this type carry labeled options.
func (t QuestionType) HasOptions() bool {
	return t == SingleChoice || t == MultipleChoice
}

// GradingMethod selects how short-answer questions are scored.
type GradingMethod string

const (
	GradingManual GradingMethod = "manual"
	GradingAI     GradingMethod = "ai"
)

// OrDefault returns m, or manual grading when m is unset or unknown.
func (m GradingMethod) OrDefault() GradingMethod {
	if m == GradingAI {
		return GradingAI
	}
	return GradingManual
}

// QuestionBank is a named collection of questions of a single type.
type QuestionBank struct {
	ID            int64        `json:"id"`
	Name          string       `json:"name"`
	Type          QuestionType `json:"question_type"`
	QuestionCount int          `json:"question_count"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Question is a single bank entry.
//
// CorrectAnswer encoding depends on Type: a letter for single choice, a
// letter set for multiple choice, a literal for true/false, blanks joined
// by the fill-blank separator, and an optional reference text for short
// answers.
type Question struct {
	ID              int64        `json:"id"`
	BankID          int64        `json:"bank_id"`
	Type            QuestionType `json:"question_type"`
	Content         string       `json:"content"`
	OptionA         string       `json:"option_a,omitempty"`
	OptionB         string       `json:"option_b,omitempty"`
	OptionC         string       `json:"option_c,omitempty"`
	OptionD         string       `json:"option_d,omitempty"`
	OptionE         string       `json:"option_e,omitempty"`
	CorrectAnswer   string       `json:"correct_answer,omitempty"`
	Points          int          `json:"points"`
	Explanation     string       `json:"explanation,omitempty"`
	UnorderedBlanks bool         `json:"unordered_blanks,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Options returns the labeled options A through E in order.
func (q Question) Options() []string {
	return []string{q.OptionA, q.OptionB, q.OptionC, q.OptionD, q.OptionE}
}

// ForStudent returns a copy safe to show while the test is in progress.
func (q Question) ForStudent() Question {
	q.CorrectAnswer = ""
	q.Explanation = ""
	return q
}

// TypeRule is the composition policy for one question type.
type TypeRule struct {
	Count  int    `json:"count" validate:"min=0,max=500"`
	Points int    `json:"points" validate:"min=0,max=1000"`
	BankID *int64 `json:"bank_id,omitempty"`
}

// Composition holds one TypeRule per question type.
type Composition struct {
	SingleChoice   TypeRule `json:"single_choice"`
	MultipleChoice TypeRule `json:"multiple_choice"`
	TrueFalse      TypeRule `json:"true_false"`
	FillBlank      TypeRule `json:"fill_blank"`
	ShortAnswer    TypeRule `json:"short_answer"`
}

// Rule returns the rule for t. Unknown types get the zero rule.
func (c Composition) Rule(t QuestionType) TypeRule {
	switch t {
	case SingleChoice:
		return c.SingleChoice
	case MultipleChoice:
		return c.MultipleChoice
	case TrueFalse:
		return c.TrueFalse
	case FillBlank:
		return c.FillBlank
	case ShortAnswer:
		return c.ShortAnswer
	}
	return TypeRule{}
}

// SetRule replaces the rule for t.
func (c *Composition) SetRule(t QuestionType, r TypeRule) {
	switch t {
	case SingleChoice:
		c.SingleChoice = r
	case MultipleChoice:
		c.MultipleChoice = r
	case TrueFalse:
		c.TrueFalse = r
	case FillBlank:
		c.FillBlank = r
	case ShortAnswer:
		c.ShortAnswer = r
	}
}

// TotalScore is the sum of count times points across all types.
func (c Composition) TotalScore() int {
	total := 0
	for _, t := range QuestionTypes {
		r := c.Rule(t)
		total += r.Count * r.Points
	}
	return total
}

// Test is a persisted test record. At most one test is active; tests
// materialized from presets are stored inactive.
type Test struct {
	ID                 int64         `json:"id"`
	Title              string        `json:"title"`
	Composition        Composition   `json:"composition"`
	TotalScore         int           `json:"total_score"`
	GradingMethod      GradingMethod `json:"grading_method"`
	AllowStudentChoice bool          `json:"allow_student_choice"`
	Active             bool          `json:"active"`
	PresetID           *int64        `json:"preset_id,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// TestPreset is a saved test configuration students may pick from.
type TestPreset struct {
	ID                 int64         `json:"id"`
	Title              string        `json:"title"`
	Composition        Composition   `json:"composition"`
	GradingMethod      GradingMethod `json:"grading_method"`
	AllowStudentChoice bool          `json:"allow_student_choice"`
	CreatedAt          time.Time     `json:"created_at"`
}

// Submission is one student's attempt at a test.
type Submission struct {
	ID          int64            `json:"id"`
	Ref         string           `json:"ref"`
	TestID      int64            `json:"test_id"`
	StudentID   int64            `json:"student_id"`
	StudentName string           `json:"student_name"`
	ClassNumber string           `json:"class_number"`
	Answers     map[int64]string `json:"answers"`
	Score       float64          `json:"score"`
	IPAddress   string           `json:"ip_address,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// ShortAnswerRecord tracks grading of one short-answer question within a
// submission. AIScore and AIFeedback keep the external grader's verdict
// after a human override.
type ShortAnswerRecord struct {
	ID            int64         `json:"id"`
	SubmissionID  int64         `json:"submission_id"`
	QuestionID    int64         `json:"question_id"`
	StudentAnswer string        `json:"student_answer"`
	Score         *int          `json:"score"`
	Comment       string        `json:"comment"`
	Graded        bool          `json:"graded"`
	Method        GradingMethod `json:"method"`
	AIScore       *int          `json:"ai_score,omitempty"`
	AIFeedback    string        `json:"ai_feedback,omitempty"`
	HumanReviewed bool          `json:"human_reviewed"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Points returns the awarded score, treating ungraded records as zero.
func (r ShortAnswerRecord) Points() int {
	if r.Score == nil {
		return 0
	}
	return *r.Score
}

// StudentHistory aggregates all submissions of one student.
type StudentHistory struct {
	StudentID    int64     `json:"student_id"`
	StudentName  string    `json:"student_name"`
	ClassNumber  string    `json:"class_number"`
	TestCount    int       `json:"test_count"`
	TotalScore   float64   `json:"total_score"`
	AverageScore float64   `json:"average_score"`
	HighestScore float64   `json:"highest_score"`
	LowestScore  float64   `json:"lowest_score"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ReviewItem is a pending short-answer record with the context a teacher
// needs to grade it.
type ReviewItem struct {
	Record          ShortAnswerRecord `json:"record"`
	QuestionContent string            `json:"question_content"`
	ReferenceAnswer string            `json:"reference_answer"`
	StudentName     string            `json:"student_name"`
	ClassNumber     string            `json:"class_number"`
	SubmittedAt     time.Time         `json:"submitted_at"`
}

// SubmissionView combines a submission with its test, questions and
// short-answer records.
type SubmissionView struct {
	Submission Submission          `json:"submission"`
	Test       Test                `json:"test"`
	Questions  []Question          `json:"questions"`
	Records    []ShortAnswerRecord `json:"records"`
}
