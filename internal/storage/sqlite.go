package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"vos/internal/models"
	"vos/internal/util"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at dbPath.
// If dbPath is empty, defaults to "./data/vos.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/vos.db"
	}
	if dbPath != ":memory:" {
		if err := util.EnsureDir(filepath.Dir(dbPath)); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps transactions from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT DEFAULT '',
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		line_count INTEGER NOT NULL,
		is_archived INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reviews (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		persona_ids TEXT NOT NULL,
		status TEXT NOT NULL,
		persona_statuses TEXT NOT NULL DEFAULT '{}',
		error TEXT DEFAULT '',
		created_at DATETIME NOT NULL,
		completed_at DATETIME,
		synthesized_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		review_id TEXT NOT NULL REFERENCES reviews(id) ON DELETE CASCADE,
		persona_id TEXT NOT NULL,
		persona_name TEXT NOT NULL,
		persona_color TEXT NOT NULL,
		content TEXT NOT NULL,
		start_line INTEGER NOT NULL CHECK (start_line >= 0),
		end_line INTEGER NOT NULL CHECK (end_line >= start_line),
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta_comments (
		id TEXT PRIMARY KEY,
		review_id TEXT NOT NULL REFERENCES reviews(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		content TEXT NOT NULL,
		start_line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		category TEXT NOT NULL,
		priority TEXT NOT NULL,
		sources TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS llm_calls (
		call_id TEXT PRIMARY KEY,
		operation TEXT NOT NULL,
		review_id TEXT DEFAULT '',
		persona_id TEXT DEFAULT '',
		provider_name TEXT NOT NULL,
		model TEXT DEFAULT '',
		status TEXT NOT NULL,
		error_type TEXT DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reviews_document ON reviews(document_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_comments_review ON comments(review_id, start_line);
	CREATE INDEX IF NOT EXISTS idx_meta_comments_review ON meta_comments(review_id, position);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}

func sqliteErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "UNIQUE constraint failed"):
			return fmt.Errorf("%w: %s", ErrAlreadyExists, msg)
		case strings.Contains(msg, "FOREIGN KEY constraint failed"):
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		}
	}
	return err
}

func notFoundIfNone(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, d models.Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, description, content, content_hash, line_count, is_archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Title, d.Description, d.Content, d.ContentHash, d.LineCount, d.IsArchived, d.CreatedAt.UTC(), d.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create document: %w", sqliteErr(err))
	}
	return nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (models.Document, error) {
	var d models.Document
	err := s.db.QueryRowContext(ctx, `
		SELECT d.id, d.title, COALESCE(d.description,''), d.content, d.content_hash, d.line_count, d.is_archived,
		       (SELECT COUNT(*) FROM reviews rv WHERE rv.document_id = d.id), d.created_at, d.updated_at
		FROM documents d WHERE d.id = ?`, id).
		Scan(&d.ID, &d.Title, &d.Description, &d.Content, &d.ContentHash, &d.LineCount, &d.IsArchived, &d.ReviewCount, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return models.Document{}, fmt.Errorf("get document: %w", sqliteErr(err))
	}
	return d, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, includeArchived bool) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.title, COALESCE(d.description,''), d.content_hash, d.line_count, d.is_archived,
		       (SELECT COUNT(*) FROM reviews rv WHERE rv.document_id = d.id), d.created_at, d.updated_at
		FROM documents d
		WHERE ? OR d.is_archived = 0
		ORDER BY d.updated_at DESC, d.id DESC`, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	out := make([]models.Document, 0)
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Description, &d.ContentHash, &d.LineCount, &d.IsArchived, &d.ReviewCount, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) SetDocumentArchived(ctx context.Context, id string, archived bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET is_archived = ?, updated_at = ? WHERE id = ?`, archived, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("archive document: %w", err)
	}
	return notFoundIfNone(res, "archive document")
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return notFoundIfNone(res, "delete document")
}

func (s *SQLiteStore) CreateReview(ctx context.Context, r models.Review) error {
	personaJSON, _ := json.Marshal(r.PersonaIDs)
	statusJSON, _ := json.Marshal(r.PersonaStatuses)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (id, document_id, persona_ids, status, persona_statuses, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.DocumentID, string(personaJSON), string(r.Status), string(statusJSON), r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create review: %w", sqliteErr(err))
	}
	return nil
}

func (s *SQLiteStore) UpdateReviewStatus(ctx context.Context, id string, status models.ReviewStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reviews SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update review status: %w", err)
	}
	return notFoundIfNone(res, "update review status")
}

func (s *SQLiteStore) CompleteReview(ctx context.Context, id string, status models.ReviewStatus, personaStatuses map[string]models.PersonaStatus, errMsg string) error {
	statusJSON, _ := json.Marshal(personaStatuses)
	res, err := s.db.ExecContext(ctx, `
		UPDATE reviews SET status = ?, persona_statuses = ?, error = ?, completed_at = ?
		WHERE id = ?`, string(status), string(statusJSON), errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("complete review: %w", err)
	}
	return notFoundIfNone(res, "complete review")
}

const sqliteReviewColumns = `
	SELECT rv.id, rv.document_id, rv.persona_ids, rv.status, rv.persona_statuses, COALESCE(rv.error,''),
	       (SELECT COUNT(*) FROM comments c WHERE c.review_id = rv.id), rv.created_at, rv.completed_at, rv.synthesized_at
	FROM reviews rv`

func scanSQLiteReview(row rowScanner) (models.Review, error) {
	var (
		rv                      models.Review
		status                  string
		personaJSON, statusJSON string
		completed, synthesized  sql.NullTime
	)
	if err := row.Scan(&rv.ID, &rv.DocumentID, &personaJSON, &status, &statusJSON, &rv.Error, &rv.TotalComments, &rv.CreatedAt, &completed, &synthesized); err != nil {
		return models.Review{}, err
	}
	rv.Status = models.ReviewStatus(status)
	if completed.Valid {
		t := completed.Time
		rv.CompletedAt = &t
	}
	if synthesized.Valid {
		t := synthesized.Time
		rv.SynthesizedAt = &t
	}
	if err := decodeReviewJSON(&rv, []byte(personaJSON), []byte(statusJSON)); err != nil {
		return models.Review{}, err
	}
	return rv, nil
}

func (s *SQLiteStore) GetReview(ctx context.Context, id string) (models.Review, error) {
	rv, err := scanSQLiteReview(s.db.QueryRowContext(ctx, sqliteReviewColumns+` WHERE rv.id = ?`, id))
	if err != nil {
		return models.Review{}, fmt.Errorf("get review: %w", sqliteErr(err))
	}
	return rv, nil
}

func (s *SQLiteStore) LatestReview(ctx context.Context, documentID string) (models.Review, error) {
	rv, err := scanSQLiteReview(s.db.QueryRowContext(ctx, sqliteReviewColumns+` WHERE rv.document_id = ? ORDER BY rv.created_at DESC, rv.id DESC LIMIT 1`, documentID))
	if err != nil {
		return models.Review{}, fmt.Errorf("latest review: %w", sqliteErr(err))
	}
	return rv, nil
}

func (s *SQLiteStore) ListReviews(ctx context.Context, documentID string) ([]models.Review, error) {
	rows, err := s.db.QueryContext(ctx, sqliteReviewColumns+` WHERE rv.document_id = ? ORDER BY rv.created_at DESC, rv.id DESC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()
	out := make([]models.Review, 0)
	for rows.Next() {
		rv, err := scanSQLiteReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out = append(out, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) AppendComments(ctx context.Context, comments []models.Comment) error {
	if len(comments) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx append comments: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	for _, c := range comments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO comments (id, document_id, review_id, persona_id, persona_name, persona_color, content, start_line, end_line, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.DocumentID, c.ReviewID, c.PersonaID, c.PersonaName, c.PersonaColor, c.Content, c.StartLine, c.EndLine, c.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert comment %s: %w", c.ID, sqliteErr(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit comments tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListComments(ctx context.Context, reviewID string) ([]models.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, review_id, persona_id, persona_name, persona_color, content, start_line, end_line, created_at
		FROM comments
		WHERE review_id = ?
		ORDER BY start_line, end_line, rowid`, reviewID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()
	out := make([]models.Comment, 0)
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ReviewID, &c.PersonaID, &c.PersonaName, &c.PersonaColor, &c.Content, &c.StartLine, &c.EndLine, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) SaveMetaComments(ctx context.Context, reviewID string, metas []models.MetaComment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx save meta comments: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	res, err := tx.ExecContext(ctx, `UPDATE reviews SET synthesized_at = ? WHERE id = ?`, time.Now().UTC(), reviewID)
	if err != nil {
		return fmt.Errorf("stamp review synthesized: %w", err)
	}
	if err := notFoundIfNone(res, "stamp review synthesized"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM meta_comments WHERE review_id = ?`, reviewID); err != nil {
		return fmt.Errorf("clear meta comments: %w", err)
	}
	for i, m := range metas {
		sources, err := json.Marshal(m.Sources)
		if err != nil {
			return fmt.Errorf("encode meta sources: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO meta_comments (id, review_id, position, content, start_line, end_line, category, priority, sources, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, reviewID, i, m.Content, m.StartLine, m.EndLine, string(m.Category), string(m.Priority), string(sources), m.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert meta comment %s: %w", m.ID, sqliteErr(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit meta comments tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadMetaComments(ctx context.Context, reviewID string) ([]models.MetaComment, bool, error) {
	var synthesized sql.NullTime
	if err := s.db.QueryRowContext(ctx, `SELECT synthesized_at FROM reviews WHERE id = ?`, reviewID).Scan(&synthesized); err != nil {
		return nil, false, fmt.Errorf("load meta comments: %w", sqliteErr(err))
	}
	if !synthesized.Valid {
		return nil, false, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, review_id, content, start_line, end_line, category, priority, sources, created_at
		FROM meta_comments WHERE review_id = ? ORDER BY position`, reviewID)
	if err != nil {
		return nil, false, fmt.Errorf("list meta comments: %w", err)
	}
	defer rows.Close()
	out := make([]models.MetaComment, 0)
	for rows.Next() {
		var (
			m                           models.MetaComment
			category, priority, sources string
		)
		if err := rows.Scan(&m.ID, &m.ReviewID, &m.Content, &m.StartLine, &m.EndLine, &category, &priority, &sources, &m.CreatedAt); err != nil {
			return nil, false, fmt.Errorf("scan meta comment: %w", err)
		}
		m.Category = models.Category(category)
		m.Priority = models.Priority(priority)
		if err := json.Unmarshal([]byte(sources), &m.Sources); err != nil {
			return nil, false, fmt.Errorf("decode meta sources: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate meta comments: %w", err)
	}
	return out, true, nil
}

func (s *SQLiteStore) InsertLLMCall(ctx context.Context, rec LLMCallRecord) error {
	rec = rec.withDefaults()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_calls (call_id, operation, review_id, persona_id, provider_name, model, status, error_type, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallID, rec.Operation, rec.ReviewID, rec.PersonaID, rec.ProviderName, rec.Model, rec.Status, rec.ErrorType, rec.DurationMS, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}
