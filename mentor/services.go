package mentor

import (
	"context"
	"time"

	"github.com/goliatone/go-query-cache/api"
	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/querycache"
)

// Services groups the bindings of every backend resource.
type Services struct {
	Schools     Publishable[School]
	Textbooks   Publishable[Textbook]
	Classes     ClassBinding
	Students    Blockable[Student]
	Teachers    Blockable[Teacher]
	Parents     ParentBinding
	Tests       TestBinding
	Questions   *Binding[Question]
	Homeworks   HomeworkBinding
	Submissions SubmissionBinding
	Chat        ChatBinding
}

// NewServices binds every resource to s and c. opts apply to all read
// queries.
func NewServices(s *querycache.Store, c *api.Client, opts ...querycache.QueryOption) *Services {
	students := NewBinding[Student](s, c, "", opts...)
	homeworks := NewBinding[Homework](s, c, "", opts...)
	return &Services{
		Schools:     Publishable[School]{NewBinding[School](s, c, "", opts...)},
		Textbooks:   Publishable[Textbook]{NewBinding[Textbook](s, c, "", opts...)},
		Classes:     ClassBinding{NewBinding[Class](s, c, "", opts...)},
		Students:    Blockable[Student]{students},
		Teachers:    Blockable[Teacher]{NewBinding[Teacher](s, c, "", opts...)},
		Parents:     ParentBinding{Binding: NewBinding[Parent](s, c, "", opts...), students: students},
		Tests:       TestBinding{Publishable[Test]{NewBinding[Test](s, c, "", opts...)}},
		Questions:   NewBinding[Question](s, c, "", opts...),
		Homeworks:   HomeworkBinding{homeworks},
		Submissions: SubmissionBinding{Binding: NewBinding[Submission](s, c, "", opts...), homeworks: homeworks},
		Chat:        ChatBinding{NewBinding[ChatThread](s, c, "", opts...)},
	}
}

// ClassBinding adds the class roster.
type ClassBinding struct {
	*Binding[Class]
}

// Students reads the students enrolled in class id.
func (b ClassBinding) Students(id int64, filters any) querycache.Query[[]Student] {
	return RelationQuery[Student](b.Binding, id, "students", filters)
}

// ParentBinding adds linking children to a parent account.
type ParentBinding struct {
	*Binding[Parent]
	students *Binding[Student]
}

type AddChildrenInput struct {
	ParentID   int64
	StudentIDs []int64
}

// AddChildren links students to a parent. Student records carry their
// parents, so every student entry is invalidated along with parent lists.
func (b ParentBinding) AddChildren() *querycache.Mutation[AddChildrenInput, Parent] {
	return querycache.NewMutation(b.store,
		func(ctx context.Context, in AddChildrenInput) (Parent, error) {
			var out Parent
			body := map[string]any{"student_ids": in.StudentIDs}
			err := b.res.Action(ctx, in.ParentID, "children", body, &out)
			return out, err
		},
		querycache.MutationOptions[AddChildrenInput, Parent]{
			OnSuccess: func(_ context.Context, in AddChildrenInput, out Parent) { b.primeID(in.ParentID, out) },
			Invalidates: func(AddChildrenInput, Parent) []cache.Key {
				return []cache.Key{b.Lists(), b.students.All()}
			},
		})
}

// TestBinding adds a test's questions.
type TestBinding struct {
	Publishable[Test]
}

func (b TestBinding) Questions(id int64) querycache.Query[[]Question] {
	return RelationQuery[Question](b.Binding, id, "questions", nil)
}

// HomeworkBinding adds assignment and the submissions of a homework.
type HomeworkBinding struct {
	*Binding[Homework]
}

// AssignInput assigns homework to classes and individual students.
type AssignInput struct {
	HomeworkID int64      `json:"-"`
	ClassIDs   []int64    `json:"class_ids,omitempty"`
	StudentIDs []int64    `json:"student_ids,omitempty"`
	DueAt      *time.Time `json:"due_at,omitempty"`
}

func (b HomeworkBinding) Submissions(id int64, filters any) querycache.Query[[]Submission] {
	return RelationQuery[Submission](b.Binding, id, "submissions", filters)
}

func (b HomeworkBinding) Assign() *querycache.Mutation[AssignInput, Homework] {
	return querycache.NewMutation(b.store,
		func(ctx context.Context, in AssignInput) (Homework, error) {
			var out Homework
			err := b.res.Action(ctx, in.HomeworkID, "assign", in, &out)
			return out, err
		},
		querycache.MutationOptions[AssignInput, Homework]{
			OnSuccess: func(_ context.Context, in AssignInput, out Homework) { b.primeID(in.HomeworkID, out) },
			Invalidates: func(in AssignInput, _ Homework) []cache.Key {
				return []cache.Key{b.Lists(), b.Relations(in.HomeworkID, "submissions")}
			},
		})
}

// SubmissionBinding adds grading.
type SubmissionBinding struct {
	*Binding[Submission]
	homeworks *Binding[Homework]
}

type GradeInput struct {
	SubmissionID int64   `json:"-"`
	Score        float64 `json:"score"`
	Feedback     string  `json:"feedback,omitempty"`
}

// Grade scores a submission. The graded record replaces its detail entry;
// submission lists and the owning homework's submissions are invalidated.
func (b SubmissionBinding) Grade() *querycache.Mutation[GradeInput, Submission] {
	return querycache.NewMutation(b.store,
		func(ctx context.Context, in GradeInput) (Submission, error) {
			var out Submission
			err := b.res.Action(ctx, in.SubmissionID, "grade", in, &out)
			return out, err
		},
		querycache.MutationOptions[GradeInput, Submission]{
			OnSuccess: func(_ context.Context, in GradeInput, out Submission) { b.primeID(in.SubmissionID, out) },
			Invalidates: func(_ GradeInput, out Submission) []cache.Key {
				keys := []cache.Key{b.Lists()}
				if out.HomeworkID != 0 {
					keys = append(keys, b.homeworks.Relations(out.HomeworkID, "submissions"))
				}
				return keys
			},
		})
}

// ChatBinding covers chat threads and their messages.
type ChatBinding struct {
	*Binding[ChatThread]
}

type SendMessageInput struct {
	ThreadID int64  `json:"-"`
	Body     string `json:"body"`
}

// Messages reads the messages of thread id, oldest first.
func (b ChatBinding) Messages(id int64) querycache.Query[[]ChatMessage] {
	return RelationQuery[ChatMessage](b.Binding, id, "messages", nil)
}

// SendMessage posts a message. The message is appended to the cached thread
// as pending right away and removed again if sending fails.
func (b ChatBinding) SendMessage() *querycache.Mutation[SendMessageInput, ChatMessage] {
	return querycache.NewMutation(b.store,
		func(ctx context.Context, in SendMessageInput) (ChatMessage, error) {
			var out ChatMessage
			err := b.res.Action(ctx, in.ThreadID, "messages", in, &out)
			return out, err
		},
		querycache.MutationOptions[SendMessageInput, ChatMessage]{
			Optimistic: func(in SendMessageInput) []querycache.OptimisticUpdate {
				return []querycache.OptimisticUpdate{
					querycache.Optimistically(b.Relation(in.ThreadID, "messages", nil),
						func(old []ChatMessage, _ bool) []ChatMessage {
							next := make([]ChatMessage, len(old), len(old)+1)
							copy(next, old)
							return append(next, ChatMessage{ThreadID: in.ThreadID, Role: "user", Body: in.Body, Pending: true})
						}),
				}
			},
			Invalidates: func(in SendMessageInput, _ ChatMessage) []cache.Key {
				return []cache.Key{b.Relations(in.ThreadID, "messages"), b.Lists()}
			},
		})
}
