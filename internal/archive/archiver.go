// Package archive migrates aged messages from the hot store to a cold SQLite
// database to bound primary-store size, and restores them on demand.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/marketchat/marketchat-server/internal/store"
)

// ErrPartial reports an archive pass that copied rows to cold storage but
// failed to prune them from the hot store. The pass is safe to retry: copies
// are idempotent.
var ErrPartial = errors.New("archived but not pruned")

const defaultBatchSize = 500

const coldSchema = `
CREATE TABLE IF NOT EXISTS archived_messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_id       TEXT NOT NULL,
	sender_role     TEXT NOT NULL,
	content         TEXT NOT NULL,
	content_hash    TEXT NOT NULL,
	is_compressed   INTEGER NOT NULL DEFAULT 0,
	is_read         INTEGER NOT NULL DEFAULT 0,
	read_at         DATETIME,
	created_at      DATETIME NOT NULL,
	archived_at     DATETIME NOT NULL
);
`

// Result summarizes one archive pass.
type Result struct {
	Archived int `json:"archived"`
	Pruned   int `json:"pruned"`
}

// Stats reports hot/cold storage usage.
type Stats struct {
	ActiveCount   int   `json:"active_count"`
	ArchivedCount int   `json:"archived_count"`
	ActiveBytes   int64 `json:"active_bytes"`
	ArchivedBytes int64 `json:"archived_bytes"`
}

// Archiver moves aged messages between the hot store and a cold database.
type Archiver struct {
	hot   store.ArchiveSource
	cold  *sql.DB
	log   *zerolog.Logger
	batch int
}

// New opens (and if needed initializes) the cold database at coldPath.
func New(hot store.ArchiveSource, coldPath string, logger *zerolog.Logger) (*Archiver, error) {
	db, err := sql.Open("sqlite3", coldPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cold store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cold store: %w", err)
	}
	if _, err := db.Exec(coldSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply cold schema: %w", err)
	}

	return &Archiver{hot: hot, cold: db, log: logger, batch: defaultBatchSize}, nil
}

// Close closes the cold database connection.
func (a *Archiver) Close() error {
	return a.cold.Close()
}

// Archive copies read messages older than olderThanDays into cold storage and
// only deletes from the hot store after the copy is confirmed written. Unread
// messages are never archived, whatever their age: the unread counters must
// keep matching rows a read transition can still reach. A failure after copy
// but before delete returns ErrPartial with the counts so far.
func (a *Archiver) Archive(ctx context.Context, olderThanDays int) (Result, error) {
	if olderThanDays < 0 {
		return Result{}, errors.New("olderThanDays must not be negative")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)

	var res Result
	for {
		msgs, err := a.hot.ListMessagesOlderThan(ctx, cutoff, a.batch)
		if err != nil {
			return res, fmt.Errorf("list aged messages: %w", err)
		}
		if len(msgs) == 0 {
			return res, nil
		}

		if err := a.copyToCold(ctx, msgs); err != nil {
			return res, fmt.Errorf("copy to cold store: %w", err)
		}
		res.Archived += len(msgs)

		ids := make([]string, len(msgs))
		for i, msg := range msgs {
			ids[i] = msg.ID
		}
		pruned, err := a.hot.DeleteMessages(ctx, ids)
		if err != nil {
			return res, fmt.Errorf("%w: delete failed after copy: %v", ErrPartial, err)
		}
		res.Pruned += pruned

		a.log.Info().Int("archived", len(msgs)).Int("pruned", pruned).Msg("archive batch complete")
		if len(msgs) < a.batch {
			return res, nil
		}
	}
}

// Restore copies messages back into the hot store and removes them from cold
// storage only after the hot-side write succeeds.
func (a *Archiver) Restore(ctx context.Context, messageIDs []string) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}

	archived, err := a.readCold(ctx, messageIDs)
	if err != nil {
		return 0, fmt.Errorf("read cold store: %w", err)
	}
	if len(archived) == 0 {
		return 0, nil
	}

	msgs := make([]*store.Message, len(archived))
	ids := make([]string, len(archived))
	for i, am := range archived {
		msgs[i] = &am.Message
		ids[i] = am.ID
	}

	if err := a.hot.ReinsertMessages(ctx, msgs); err != nil {
		return 0, fmt.Errorf("reinsert into hot store: %w", err)
	}
	if err := a.deleteCold(ctx, ids); err != nil {
		// Rows now live on both sides; re-running Restore is harmless.
		a.log.Warn().Err(err).Msg("restored but not removed from cold store")
	}

	return len(msgs), nil
}

// Stats reports message counts and content sizes on both sides.
func (a *Archiver) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var err error

	if st.ActiveCount, err = a.hot.CountMessages(ctx); err != nil {
		return st, fmt.Errorf("count hot messages: %w", err)
	}
	if st.ActiveBytes, err = a.hot.MessageBytes(ctx); err != nil {
		return st, fmt.Errorf("sum hot bytes: %w", err)
	}

	row := a.cold.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(content)), 0) FROM archived_messages`)
	if err := row.Scan(&st.ArchivedCount, &st.ArchivedBytes); err != nil {
		return st, fmt.Errorf("query cold stats: %w", err)
	}
	return st, nil
}

func (a *Archiver) copyToCold(ctx context.Context, msgs []*store.Message) error {
	tx, err := a.cold.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// INSERT OR REPLACE keeps retries of a partially-pruned pass idempotent.
	insert := `
		INSERT OR REPLACE INTO archived_messages (id, conversation_id, sender_id,
			sender_role, content, content_hash, is_compressed, is_read, read_at,
			created_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	for _, msg := range msgs {
		var readAt any
		if msg.ReadAt != nil {
			readAt = *msg.ReadAt
		}
		if _, err := tx.ExecContext(ctx, insert,
			msg.ID, msg.ConversationID, msg.SenderID, string(msg.SenderRole),
			msg.Content, msg.ContentHash, msg.IsCompressed, msg.IsRead, readAt,
			msg.CreatedAt, now); err != nil {
			return fmt.Errorf("insert archived message %s: %w", msg.ID, err)
		}
	}

	return tx.Commit()
}

func (a *Archiver) readCold(ctx context.Context, ids []string) ([]*store.ArchivedMessage, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := `
		SELECT id, conversation_id, sender_id, sender_role, content, content_hash,
			is_compressed, is_read, read_at, created_at, archived_at
		FROM archived_messages WHERE id IN (` + placeholders + `)`

	rows, err := a.cold.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*store.ArchivedMessage
	for rows.Next() {
		var am store.ArchivedMessage
		var role string
		var readAt sql.NullTime
		if err := rows.Scan(&am.ID, &am.ConversationID, &am.SenderID, &role,
			&am.Content, &am.ContentHash, &am.IsCompressed, &am.IsRead,
			&readAt, &am.CreatedAt, &am.ArchivedAt); err != nil {
			return nil, err
		}
		am.SenderRole = store.Role(role)
		if readAt.Valid {
			t := readAt.Time
			am.ReadAt = &t
		}
		msgs = append(msgs, &am)
	}
	return msgs, rows.Err()
}

func (a *Archiver) deleteCold(ctx context.Context, ids []string) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := a.cold.ExecContext(ctx, `DELETE FROM archived_messages WHERE id IN (`+placeholders+`)`, args...)
	return err
}
