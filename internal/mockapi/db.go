package mockapi

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"
)

// OpenDB opens the SQLite database at dsn and creates the tables.
func OpenDB(ctx context.Context, dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("mockapi: open %s: %w", dsn, err)
	}
	// one connection keeps in-memory databases alive and writes serialized
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(ctx context.Context, db *bun.DB) error {
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("mockapi: create table for %T: %w", model, err)
		}
	}
	return nil
}

// Seed fills an empty database with a small school.
func Seed(ctx context.Context, db *bun.DB) error {
	n, err := db.NewSelect().Model((*School)(nil)).Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		rows := []any{
			&[]School{
				{Name: "North High", City: "Nairobi", Status: "active"},
				{Name: "South Primary", City: "Mombasa", Status: "draft"},
			},
			&[]Teacher{
				{Name: "Amina Otieno", Email: "amina@example.com", Subject: "math", SchoolID: 1, Status: "active"},
			},
			&[]Class{
				{Name: "7A", Grade: 7, SchoolID: 1, TeacherID: 1},
			},
			&[]Student{
				{Name: "Ada Lovelace", Email: "ada@example.com", ClassID: 1, SchoolID: 1, Status: "active"},
				{Name: "Grace Hopper", Email: "grace@example.com", ClassID: 1, SchoolID: 1, Status: "active"},
			},
			&[]Parent{
				{Name: "Marie Curie", Email: "marie@example.com", StudentIDs: jsonList[int64]{1}},
			},
			&[]Textbook{
				{Title: "Fractions and Decimals", Subject: "math", Grade: 7, SchoolID: 1, Status: "published"},
			},
			&[]Test{
				{Title: "Fractions quiz", TextbookID: 1, ClassID: 1, Status: "draft"},
			},
			&[]Question{
				{TestID: 1, Prompt: "1/2 + 1/4 = ?", Options: jsonList[string]{"3/4", "2/6"}, Answer: "3/4", Points: 2},
			},
			&[]Homework{
				{Title: "Fractions worksheet", TeacherID: 1, TextbookID: 1, ClassIDs: jsonList[int64]{1}},
			},
			&[]Submission{
				{HomeworkID: 1, StudentID: 1, Content: "3/4", Status: "submitted"},
			},
			&[]ChatThread{
				{Title: "Fractions help", StudentID: 1, LastMessage: "How do I add fractions?"},
			},
			&[]ChatMessage{
				{ThreadID: 1, Role: "user", Body: "How do I add fractions?"},
			},
		}
		for _, batch := range rows {
			if _, err := tx.NewInsert().Model(batch).Exec(ctx); err != nil {
				return fmt.Errorf("mockapi: seed %T: %w", batch, err)
			}
		}
		return nil
	})
}
