package mockapi

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// record is implemented by every table model through the embedded Base.
type record interface {
	GetID() int64
	SetID(id int64)
}

// Base holds the primary key shared by every table.
type Base struct {
	ID int64 `bun:"id,pk,autoincrement" json:"id"`
}

func (b *Base) GetID() int64   { return b.ID }
func (b *Base) SetID(id int64) { b.ID = id }

// jsonList stores a list as a JSON text column.
type jsonList[T any] []T

func (l jsonList[T]) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	raw, err := json.Marshal([]T(l))
	return string(raw), err
}

func (l *jsonList[T]) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("mockapi: cannot scan %T into a list", src)
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return err
	}
	if len(items) == 0 {
		items = nil
	}
	*l = items
	return nil
}

type School struct {
	bun.BaseModel `bun:"table:schools"`
	Base

	Name    string `bun:"name,notnull" json:"name" validate:"required"`
	City    string `bun:"city" json:"city,omitempty"`
	Address string `bun:"address" json:"address,omitempty"`
	Status  string `bun:"status" json:"status,omitempty" validate:"omitempty,oneof=draft published active"`
}

type Textbook struct {
	bun.BaseModel `bun:"table:textbooks"`
	Base

	Title    string `bun:"title,notnull" json:"title" validate:"required"`
	Subject  string `bun:"subject" json:"subject,omitempty"`
	Grade    int    `bun:"grade" json:"grade,omitempty" validate:"gte=0,lte=12"`
	SchoolID int64  `bun:"school_id" json:"school_id,omitempty"`
	Status   string `bun:"status" json:"status,omitempty"`
}

type Class struct {
	bun.BaseModel `bun:"table:classes"`
	Base

	Name      string `bun:"name,notnull" json:"name" validate:"required"`
	Grade     int    `bun:"grade" json:"grade,omitempty" validate:"gte=0,lte=12"`
	SchoolID  int64  `bun:"school_id" json:"school_id,omitempty"`
	TeacherID int64  `bun:"teacher_id" json:"teacher_id,omitempty"`
}

type Student struct {
	bun.BaseModel `bun:"table:students"`
	Base

	Name     string `bun:"name,notnull" json:"name" validate:"required"`
	Email    string `bun:"email" json:"email,omitempty" validate:"omitempty,email"`
	ClassID  int64  `bun:"class_id" json:"class_id,omitempty"`
	SchoolID int64  `bun:"school_id" json:"school_id,omitempty"`
	Status   string `bun:"status" json:"status,omitempty"`
}

type Teacher struct {
	bun.BaseModel `bun:"table:teachers"`
	Base

	Name     string `bun:"name,notnull" json:"name" validate:"required"`
	Email    string `bun:"email" json:"email,omitempty" validate:"omitempty,email"`
	Subject  string `bun:"subject" json:"subject,omitempty"`
	SchoolID int64  `bun:"school_id" json:"school_id,omitempty"`
	Status   string `bun:"status" json:"status,omitempty"`
}

type Parent struct {
	bun.BaseModel `bun:"table:parents"`
	Base

	Name       string          `bun:"name,notnull" json:"name" validate:"required"`
	Email      string          `bun:"email" json:"email,omitempty" validate:"omitempty,email"`
	Phone      string          `bun:"phone" json:"phone,omitempty"`
	StudentIDs jsonList[int64] `bun:"student_ids,type:text" json:"student_ids,omitempty"`
}

type Test struct {
	bun.BaseModel `bun:"table:tests"`
	Base

	Title      string `bun:"title,notnull" json:"title" validate:"required"`
	TextbookID int64  `bun:"textbook_id" json:"textbook_id,omitempty"`
	ClassID    int64  `bun:"class_id" json:"class_id,omitempty"`
	Status     string `bun:"status" json:"status,omitempty"`
}

type Question struct {
	bun.BaseModel `bun:"table:questions"`
	Base

	TestID  int64            `bun:"test_id" json:"test_id" validate:"required"`
	Prompt  string           `bun:"prompt,notnull" json:"prompt" validate:"required"`
	Options jsonList[string] `bun:"options,type:text" json:"options,omitempty"`
	Answer  string           `bun:"answer" json:"answer,omitempty"`
	Points  int              `bun:"points" json:"points,omitempty" validate:"gte=0"`
}

type Homework struct {
	bun.BaseModel `bun:"table:homeworks"`
	Base

	Title       string          `bun:"title,notnull" json:"title" validate:"required"`
	Description string          `bun:"description" json:"description,omitempty"`
	TeacherID   int64           `bun:"teacher_id" json:"teacher_id,omitempty"`
	TextbookID  int64           `bun:"textbook_id" json:"textbook_id,omitempty"`
	ClassIDs    jsonList[int64] `bun:"class_ids,type:text" json:"class_ids,omitempty"`
	DueAt       *time.Time      `bun:"due_at" json:"due_at,omitempty"`
}

type Submission struct {
	bun.BaseModel `bun:"table:submissions"`
	Base

	HomeworkID int64    `bun:"homework_id" json:"homework_id" validate:"required"`
	StudentID  int64    `bun:"student_id" json:"student_id" validate:"required"`
	Content    string   `bun:"content" json:"content,omitempty"`
	Score      *float64 `bun:"score" json:"score,omitempty"`
	Feedback   string   `bun:"feedback" json:"feedback,omitempty"`
	Status     string   `bun:"status" json:"status,omitempty"`
}

type ChatThread struct {
	bun.BaseModel `bun:"table:chat_threads"`
	Base

	Title       string `bun:"title,notnull" json:"title" validate:"required"`
	StudentID   int64  `bun:"student_id" json:"student_id,omitempty"`
	LastMessage string `bun:"last_message" json:"last_message,omitempty"`
}

type ChatMessage struct {
	bun.BaseModel `bun:"table:chat_messages"`
	Base

	ThreadID int64  `bun:"thread_id" json:"thread_id"`
	Role     string `bun:"role" json:"role,omitempty"`
	Body     string `bun:"body,notnull" json:"body" validate:"required"`
}

var models = []any{
	(*School)(nil),
	(*Textbook)(nil),
	(*Class)(nil),
	(*Student)(nil),
	(*Teacher)(nil),
	(*Parent)(nil),
	(*Test)(nil),
	(*Question)(nil),
	(*Homework)(nil),
	(*Submission)(nil),
	(*ChatThread)(nil),
	(*ChatMessage)(nil),
}
