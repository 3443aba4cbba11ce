package mockapi

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// related lists the child rows whose fk column points at the owner in the
// path, e.g. GET /classes/3/students.
func related[O any, PO interface {
	*O
	record
}, R any, PR interface {
	*R
	record
}](owner *resource[O, PO], child *resource[R, PR], fk string) echo.HandlerFunc {
	return func(c echo.Context) error {
		parent, err := owner.find(c)
		if err != nil {
			return err
		}
		rows := make([]R, 0)
		q := child.db.NewSelect().Model(&rows).Where("? = ?", bun.Ident(fk), parent.GetID())
		if err := child.applyFilters(q, c.QueryParams()); err != nil {
			return err
		}
		if err := q.Scan(c.Request().Context()); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, rows)
	}
}

func bindJSON(c echo.Context, dst any) error {
	if err := json.NewDecoder(c.Request().Body).Decode(dst); err != nil {
		return errBadRequest(err.Error())
	}
	return nil
}

// missingIDs returns the ids that have no row in model's table.
func missingIDs(ctx context.Context, db bun.IDB, model any, ids []int64) ([]int64, error) {
	var found []int64
	if err := db.NewSelect().Model(model).Column("id").Where("id IN (?)", bun.In(ids)).Scan(ctx, &found); err != nil {
		return nil, err
	}
	var missing []int64
	for _, id := range ids {
		if !slices.Contains(found, id) {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func merge(into []int64, ids ...int64) []int64 {
	for _, id := range ids {
		if !slices.Contains(into, id) {
			into = append(into, id)
		}
	}
	return into
}

type childrenRequest struct {
	StudentIDs []int64 `json:"student_ids" validate:"required,min=1"`
}

func (s *Server) addChildren(parents *resource[Parent, *Parent]) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		parent, err := parents.find(c)
		if err != nil {
			return err
		}
		var req childrenRequest
		if err := bindJSON(c, &req); err != nil {
			return err
		}
		if err := parents.validate.Struct(&req); err != nil {
			return err
		}
		missing, err := missingIDs(ctx, s.db, (*Student)(nil), req.StudentIDs)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			ae := errInvalidField("student_ids", "unknown students")
			ae.Meta = map[string]any{"missing": missing}
			return ae
		}

		parent.StudentIDs = merge(parent.StudentIDs, req.StudentIDs...)
		if _, err := s.db.NewUpdate().Model(parent).Column("student_ids").WherePK().Exec(ctx); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, parent)
	}
}

type assignRequest struct {
	ClassIDs   []int64    `json:"class_ids"`
	StudentIDs []int64    `json:"student_ids"`
	DueAt      *time.Time `json:"due_at"`
}

// assignHomework links the homework to classes and creates an assigned
// submission for every targeted student that has none yet.
func (s *Server) assignHomework(homeworks *resource[Homework, *Homework]) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		hw, err := homeworks.find(c)
		if err != nil {
			return err
		}
		var req assignRequest
		if err := bindJSON(c, &req); err != nil {
			return err
		}
		if len(req.ClassIDs) == 0 && len(req.StudentIDs) == 0 {
			return errInvalidField("class_ids", "assign to at least one class or student")
		}
		if len(req.ClassIDs) > 0 {
			missing, err := missingIDs(ctx, s.db, (*Class)(nil), req.ClassIDs)
			if err != nil {
				return err
			}
			if len(missing) > 0 {
				ae := errInvalidField("class_ids", "unknown classes")
				ae.Meta = map[string]any{"missing": missing}
				return ae
			}
		}

		err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			studentIDs := slices.Clone(req.StudentIDs)
			if len(req.ClassIDs) > 0 {
				var enrolled []int64
				if err := tx.NewSelect().Model((*Student)(nil)).Column("id").Where("class_id IN (?)", bun.In(req.ClassIDs)).Scan(ctx, &enrolled); err != nil {
					return err
				}
				studentIDs = merge(studentIDs, enrolled...)
			}

			var existing []int64
			if len(studentIDs) > 0 {
				if err := tx.NewSelect().Model((*Submission)(nil)).Column("student_id").Where("homework_id = ?", hw.ID).Scan(ctx, &existing); err != nil {
					return err
				}
			}
			var subs []Submission
			for _, id := range studentIDs {
				if !slices.Contains(existing, id) {
					subs = append(subs, Submission{HomeworkID: hw.ID, StudentID: id, Status: "assigned"})
				}
			}
			if len(subs) > 0 {
				if _, err := tx.NewInsert().Model(&subs).Exec(ctx); err != nil {
					return err
				}
			}

			hw.ClassIDs = merge(hw.ClassIDs, req.ClassIDs...)
			if req.DueAt != nil {
				hw.DueAt = req.DueAt
			}
			_, err := tx.NewUpdate().Model(hw).WherePK().Exec(ctx)
			return err
		})
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, hw)
	}
}

type gradeRequest struct {
	Score    *float64 `json:"score" validate:"required,gte=0,lte=100"`
	Feedback string   `json:"feedback"`
}

func (s *Server) gradeSubmission(submissions *resource[Submission, *Submission]) echo.HandlerFunc {
	return func(c echo.Context) error {
		sub, err := submissions.find(c)
		if err != nil {
			return err
		}
		var req gradeRequest
		if err := bindJSON(c, &req); err != nil {
			return err
		}
		if err := submissions.validate.Struct(&req); err != nil {
			return err
		}
		if sub.Status == "assigned" {
			return errConflict("submission has not been handed in", map[string]any{"status": sub.Status})
		}

		sub.Score, sub.Feedback, sub.Status = req.Score, req.Feedback, "graded"
		if _, err := s.db.NewUpdate().Model(sub).WherePK().Exec(c.Request().Context()); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, sub)
	}
}

type messageRequest struct {
	Body string `json:"body" validate:"required"`
}

// sendMessage appends a user message to the thread and mirrors it into the
// thread's preview.
func (s *Server) sendMessage(threads *resource[ChatThread, *ChatThread], messages *resource[ChatMessage, *ChatMessage]) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		thread, err := threads.find(c)
		if err != nil {
			return err
		}
		var req messageRequest
		if err := bindJSON(c, &req); err != nil {
			return err
		}
		if err := messages.validate.Struct(&req); err != nil {
			return err
		}

		msg := &ChatMessage{ThreadID: thread.ID, Role: "user", Body: req.Body}
		err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if _, err := tx.NewInsert().Model(msg).Exec(ctx); err != nil {
				return err
			}
			thread.LastMessage = req.Body
			_, err := tx.NewUpdate().Model(thread).Column("last_message").WherePK().Exec(ctx)
			return err
		})
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, msg)
	}
}
