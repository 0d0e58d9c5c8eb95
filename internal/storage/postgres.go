package storage

// PostgresStore implements Store on a pgx pool, one repo per table.
type PostgresStore struct {
	*DB
	*DocumentRepo
	*ReviewRepo
	*CommentRepo
	*MetaCommentRepo
	*LLMAuditRepo
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *DB) *PostgresStore {
	return &PostgresStore{
		DB:              db,
		DocumentRepo:    NewDocumentRepo(db),
		ReviewRepo:      NewReviewRepo(db),
		CommentRepo:     NewCommentRepo(db),
		MetaCommentRepo: NewMetaCommentRepo(db),
		LLMAuditRepo:    NewLLMAuditRepo(db),
	}
}
