package mentor

import "time"

// Record statuses shared by publishable and blockable resources.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusActive    = "active"
	StatusBlocked   = "blocked"
)

// Filters is the common list filter set. Zero fields are left out of both
// the request query and the cache key, so Filters{} and nil address the same
// list.
type Filters struct {
	Q          string `json:"q,omitempty"`
	Status     string `json:"status,omitempty"`
	Page       int    `json:"page,omitempty"`
	PerPage    int    `json:"per_page,omitempty"`
	SchoolID   int64  `json:"school_id,omitempty"`
	ClassID    int64  `json:"class_id,omitempty"`
	StudentID  int64  `json:"student_id,omitempty"`
	TeacherID  int64  `json:"teacher_id,omitempty"`
	HomeworkID int64  `json:"homework_id,omitempty"`
	TextbookID int64  `json:"textbook_id,omitempty"`
}

type School struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	City    string `json:"city,omitempty"`
	Address string `json:"address,omitempty"`
	Status  string `json:"status,omitempty"`
}

type Textbook struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Subject  string `json:"subject,omitempty"`
	Grade    int    `json:"grade,omitempty"`
	SchoolID int64  `json:"school_id,omitempty"`
	Status   string `json:"status,omitempty"`
}

type Class struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Grade     int    `json:"grade,omitempty"`
	SchoolID  int64  `json:"school_id,omitempty"`
	TeacherID int64  `json:"teacher_id,omitempty"`
}

type Student struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	ClassID  int64  `json:"class_id,omitempty"`
	SchoolID int64  `json:"school_id,omitempty"`
	Status   string `json:"status,omitempty"`
}

type Teacher struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Subject  string `json:"subject,omitempty"`
	SchoolID int64  `json:"school_id,omitempty"`
	Status   string `json:"status,omitempty"`
}

type Parent struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Email      string  `json:"email,omitempty"`
	Phone      string  `json:"phone,omitempty"`
	StudentIDs []int64 `json:"student_ids,omitempty"`
}

type Test struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	TextbookID int64  `json:"textbook_id,omitempty"`
	ClassID    int64  `json:"class_id,omitempty"`
	Status     string `json:"status,omitempty"`
}

type Question struct {
	ID      int64    `json:"id"`
	TestID  int64    `json:"test_id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"`
	Answer  string   `json:"answer,omitempty"`
	Points  int      `json:"points,omitempty"`
}

type Homework struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	TeacherID   int64      `json:"teacher_id,omitempty"`
	TextbookID  int64      `json:"textbook_id,omitempty"`
	ClassIDs    []int64    `json:"class_ids,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

type Submission struct {
	ID         int64    `json:"id"`
	HomeworkID int64    `json:"homework_id"`
	StudentID  int64    `json:"student_id"`
	Content    string   `json:"content,omitempty"`
	Score      *float64 `json:"score,omitempty"`
	Feedback   string   `json:"feedback,omitempty"`
	Status     string   `json:"status,omitempty"`
}

type ChatThread struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	StudentID   int64  `json:"student_id,omitempty"`
	LastMessage string `json:"last_message,omitempty"`
}

// ChatMessage is one message of a thread. Pending marks a message that is
// shown optimistically while it is still being sent.
type ChatMessage struct {
	ID       int64  `json:"id"`
	ThreadID int64  `json:"thread_id"`
	Role     string `json:"role,omitempty"`
	Body     string `json:"body"`
	Pending  bool   `json:"pending,omitempty"`
}
