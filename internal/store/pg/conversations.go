package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/nextlevelbuilder/unibox/internal/store"
)

// PGConversationStore implements store.ConversationStore backed by Postgres.
type PGConversationStore struct {
	db *sql.DB
}

func NewPGConversationStore(db *sql.DB) *PGConversationStore {
	return &PGConversationStore{db: db}
}

const conversationSelectCols = `conversation_id, channel, platform_user_id, last_message, last_ts, reply_mode, created_at, updated_at`

// UpsertConversation creates the conversation or advances it. last_ts never
// moves backward and last_message only changes when the incoming message is
// at least as new as the stored one.
func (s *PGConversationStore) UpsertConversation(ctx context.Context, u store.ConversationUpsert) (*store.ConversationData, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO conversations (conversation_id, channel, platform_user_id, last_message, last_ts, reply_mode)
		 VALUES ($1, $2, $3, $4, $5, 'ai')
		 ON CONFLICT (conversation_id) DO UPDATE SET
		   platform_user_id = EXCLUDED.platform_user_id,
		   last_message = CASE WHEN EXCLUDED.last_ts >= conversations.last_ts
		                       THEN EXCLUDED.last_message ELSE conversations.last_message END,
		   last_ts = GREATEST(conversations.last_ts, EXCLUDED.last_ts),
		   updated_at = NOW()
		 RETURNING `+conversationSelectCols,
		u.ConversationID, u.Channel, u.PlatformUserID, u.LastMessage, u.LastTS.UTC())
	c, err := scanConversation(row)
	if err != nil {
		return nil, store.Persistence("upsert conversation", err)
	}
	return c, nil
}

func (s *PGConversationStore) GetConversation(ctx context.Context, conversationID string) (*store.ConversationData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationSelectCols+` FROM conversations WHERE conversation_id = $1`, conversationID)
	c, err := scanConversation(row)
	if err != nil {
		return nil, store.Persistence("get conversation", err)
	}
	return c, nil
}

func (s *PGConversationStore) ListConversations(ctx context.Context, opts store.ConversationListOpts) ([]store.ConversationData, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = store.DefaultConversationListLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	if len(opts.Channels) > 0 {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+conversationSelectCols+` FROM conversations
			 WHERE channel = ANY($1) ORDER BY last_ts DESC LIMIT $2`,
			pq.Array(opts.Channels), limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+conversationSelectCols+` FROM conversations ORDER BY last_ts DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, store.Persistence("list conversations", err)
	}
	defer rows.Close()

	var out []store.ConversationData
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, store.Persistence("list conversations", err)
		}
		out = append(out, *c)
	}
	return out, store.Persistence("list conversations", rows.Err())
}

func (s *PGConversationStore) SetReplyMode(ctx context.Context, conversationID string, mode store.ReplyMode) (*store.ConversationData, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE conversations SET reply_mode = $1, updated_at = NOW()
		 WHERE conversation_id = $2 RETURNING `+conversationSelectCols,
		string(mode), conversationID)
	c, err := scanConversation(row)
	if err != nil {
		return nil, store.Persistence("set reply mode", err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*store.ConversationData, error) {
	var c store.ConversationData
	var mode string
	err := row.Scan(&c.ConversationID, &c.Channel, &c.PlatformUserID, &c.LastMessage,
		&c.LastTS, &mode, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.ReplyMode = store.ReplyMode(mode)
	return &c, nil
}
