// Package mockapi is a development backend serving the REST shape the client
// consumes: list, get, create, patch, replace and delete per resource, the
// resource actions and the JSON error document. Data lives in SQLite.
package mockapi

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-query-cache/internal/logging"
)

type Options struct {
	Address string
	// DSN is the SQLite data source, e.g. "file:mentor.db" or
	// "file:dev?mode=memory&cache=shared".
	DSN            string
	Seed           bool
	DisableReqLogs bool
	Logger         logging.Logger
}

type Server struct {
	opts   Options
	app    *echo.Echo
	db     *bun.DB
	logger logging.Logger
}

var _ http.Handler = (*Server)(nil)

// NewServer opens the database, seeds it when asked and mounts the routes
// under /v1.
func NewServer(ctx context.Context, opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	db, err := OpenDB(ctx, opts.DSN)
	if err != nil {
		return nil, err
	}
	if opts.Seed {
		if err := Seed(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	s := &Server{
		opts:   opts,
		app:    echo.New(),
		db:     db,
		logger: opts.Logger.With("component", "mockapi"),
	}
	s.setup()
	return s, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Server) setup() {
	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	s.app.Use(middleware.RequestID())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	s.app.Use(middleware.Recover())
	s.app.HTTPErrorHandler = newHTTPErrorHandler(s.logger)

	v1 := s.app.Group("/v1")
	validate := newValidator()

	schools := &resource[School, *School]{db: s.db, validate: validate, name: "schools", search: "name", filters: []string{"status"}}
	textbooks := &resource[Textbook, *Textbook]{db: s.db, validate: validate, name: "textbooks", search: "title", filters: []string{"status", "school_id"}}
	classes := &resource[Class, *Class]{db: s.db, validate: validate, name: "classes", search: "name", filters: []string{"school_id", "teacher_id"}}
	students := &resource[Student, *Student]{db: s.db, validate: validate, name: "students", search: "name", filters: []string{"status", "school_id", "class_id"}}
	teachers := &resource[Teacher, *Teacher]{db: s.db, validate: validate, name: "teachers", search: "name", filters: []string{"status", "school_id"}}
	parents := &resource[Parent, *Parent]{db: s.db, validate: validate, name: "parents", search: "name"}
	tests := &resource[Test, *Test]{db: s.db, validate: validate, name: "tests", search: "title", filters: []string{"status", "class_id", "textbook_id"}}
	questions := &resource[Question, *Question]{db: s.db, validate: validate, name: "questions", search: "prompt", filters: []string{"test_id"}}
	homeworks := &resource[Homework, *Homework]{db: s.db, validate: validate, name: "homeworks", search: "title", filters: []string{"teacher_id", "textbook_id"}}
	submissions := &resource[Submission, *Submission]{db: s.db, validate: validate, name: "submissions", filters: []string{"status", "homework_id", "student_id"}}
	threads := &resource[ChatThread, *ChatThread]{db: s.db, validate: validate, name: "chat_threads", search: "title", filters: []string{"student_id"}}
	messages := &resource[ChatMessage, *ChatMessage]{db: s.db, validate: validate, name: "chat_messages", filters: []string{"thread_id"}}

	schoolsG := schools.register(v1)
	schoolsG.POST("/:id/publish", schools.transition("published"))
	schoolsG.POST("/:id/unpublish", schools.transition("draft"))

	textbooksG := textbooks.register(v1)
	textbooksG.POST("/:id/publish", textbooks.transition("published"))
	textbooksG.POST("/:id/unpublish", textbooks.transition("draft"))

	testsG := tests.register(v1)
	testsG.POST("/:id/publish", tests.transition("published"))
	testsG.POST("/:id/unpublish", tests.transition("draft"))
	testsG.GET("/:id/questions", related(tests, questions, "test_id"))

	studentsG := students.register(v1)
	studentsG.POST("/:id/block", students.transition("blocked"))
	studentsG.POST("/:id/unblock", students.transition("active"))

	teachersG := teachers.register(v1)
	teachersG.POST("/:id/block", teachers.transition("blocked"))
	teachersG.POST("/:id/unblock", teachers.transition("active"))

	classesG := classes.register(v1)
	classesG.GET("/:id/students", related(classes, students, "class_id"))

	parentsG := parents.register(v1)
	parentsG.POST("/:id/children", s.addChildren(parents))

	questions.register(v1)

	homeworksG := homeworks.register(v1)
	homeworksG.GET("/:id/submissions", related(homeworks, submissions, "homework_id"))
	homeworksG.POST("/:id/assign", s.assignHomework(homeworks))

	submissionsG := submissions.register(v1)
	submissionsG.POST("/:id/grade", s.gradeSubmission(submissions))

	threadsG := threads.register(v1)
	threadsG.GET("/:id/messages", related(threads, messages, "thread_id"))
	threadsG.POST("/:id/messages", s.sendMessage(threads, messages))
}

// Start serves until the server is stopped.
func (s *Server) Start() error {
	s.logger.Info("listening", "address", s.opts.Address)
	if err := s.app.Start(s.opts.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down and closes the database.
func (s *Server) Stop(ctx context.Context) error {
	err := s.app.Shutdown(ctx)
	return errors.Join(err, s.db.Close())
}

// DB exposes the database for tests and tooling.
func (s *Server) DB() *bun.DB {
	return s.db
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.app.ServeHTTP(w, r)
}
