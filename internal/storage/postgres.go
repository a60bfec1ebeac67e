package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/xaenox/acet/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql sqlite_schema.sql
var migrations embed.FS

const uniqueViolation = "23505"

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Path     string
}

// DSN renders the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger}
	if err := storage.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database schema: %w", err)
	}

	logger.Info("Connected to PostgreSQL",
		zap.String("host", config.Host),
		zap.String("dbname", config.DBName))
	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("read migrations file: %w", err)
	}
	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("execute migrations: %w", err)
	}
	return nil
}

func (s *PostgresStorage) AddTerm(ctx context.Context, term *models.GlossaryTerm) error {
	if err := normalize(term); err != nil {
		return err
	}

	query := `
		INSERT INTO glossary (term, explanation, category)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query, term.Term, term.Explanation, term.Category).
		Scan(&term.ID, &term.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %q", ErrDuplicateTerm, term.Term)
		}
		return fmt.Errorf("insert term: %w", err)
	}
	return nil
}

func (s *PostgresStorage) ListTerms(ctx context.Context) ([]models.GlossaryTerm, error) {
	query := `
		SELECT id, term, explanation, category, created_at
		FROM glossary
		ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query terms: %w", err)
	}
	defer rows.Close()

	var terms []models.GlossaryTerm
	for rows.Next() {
		var t models.GlossaryTerm
		if err := rows.Scan(&t.ID, &t.Term, &t.Explanation, &t.Category, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan term: %w", err)
		}
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

func (s *PostgresStorage) GetTerm(ctx context.Context, id int64) (*models.GlossaryTerm, error) {
	query := `
		SELECT id, term, explanation, category, created_at
		FROM glossary
		WHERE id = $1`

	var t models.GlossaryTerm
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&t.ID, &t.Term, &t.Explanation, &t.Category, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query term %d: %w", id, err)
	}
	return &t, nil
}

func (s *PostgresStorage) DeleteByText(ctx context.Context, term string) (int64, error) {
	return s.exec(ctx, `DELETE FROM glossary WHERE term = $1`, term)
}

func (s *PostgresStorage) DeleteByID(ctx context.Context, id int64) (int64, error) {
	return s.exec(ctx, `DELETE FROM glossary WHERE id = $1`, id)
}

func (s *PostgresStorage) exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete term: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
