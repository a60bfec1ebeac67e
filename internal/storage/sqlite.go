package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xaenox/acet/internal/models"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

type SQLiteStorage struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewSQLiteStorage(path string, logger *zap.Logger) (*SQLiteStorage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	schema, err := migrations.ReadFile("sqlite_schema.sql")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read schema: %w", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	logger.Info("Opened SQLite glossary", zap.String("path", path))
	return &SQLiteStorage{db: db, logger: logger, now: time.Now}, nil
}

func (s *SQLiteStorage) AddTerm(ctx context.Context, term *models.GlossaryTerm) error {
	if err := normalize(term); err != nil {
		return err
	}

	created := s.now()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO glossary (term, explanation, category, created_at) VALUES (?, ?, ?, ?)`,
		term.Term, term.Explanation, term.Category, created.UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %q", ErrDuplicateTerm, term.Term)
		}
		return fmt.Errorf("insert term: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get inserted id: %w", err)
	}
	term.ID = id
	term.CreatedAt = created
	return nil
}

func (s *SQLiteStorage) ListTerms(ctx context.Context) ([]models.GlossaryTerm, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, term, explanation, category, created_at
		FROM glossary
		ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query terms: %w", err)
	}
	defer rows.Close()

	var terms []models.GlossaryTerm
	for rows.Next() {
		t, err := scanTerm(rows)
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

func (s *SQLiteStorage) GetTerm(ctx context.Context, id int64) (*models.GlossaryTerm, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, term, explanation, category, created_at
		FROM glossary
		WHERE id = ?`, id)
	t, err := scanTerm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStorage) DeleteByText(ctx context.Context, term string) (int64, error) {
	return s.exec(ctx, `DELETE FROM glossary WHERE term = ?`, term)
}

func (s *SQLiteStorage) DeleteByID(ctx context.Context, id int64) (int64, error) {
	return s.exec(ctx, `DELETE FROM glossary WHERE id = ?`, id)
}

func (s *SQLiteStorage) exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete term: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTerm(row scanner) (models.GlossaryTerm, error) {
	var (
		t       models.GlossaryTerm
		created int64
	)
	if err := row.Scan(&t.ID, &t.Term, &t.Explanation, &t.Category, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("scan term: %w", err)
	}
	t.CreatedAt = time.Unix(0, created)
	return t, nil
}
