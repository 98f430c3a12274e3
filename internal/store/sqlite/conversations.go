package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/nextlevelbuilder/unibox/internal/store"
)

// ConversationStore implements store.ConversationStore on SQLite.
type ConversationStore struct {
	d *DB
}

const conversationCols = `conversation_id, channel, platform_user_id, last_message, last_ts, reply_mode, created_at, updated_at`

func (s *ConversationStore) UpsertConversation(ctx context.Context, u store.ConversationUpsert) (*store.ConversationData, error) {
	now := s.d.nowMillis()
	row := s.d.db.QueryRowContext(ctx,
		`INSERT INTO conversations (conversation_id, channel, platform_user_id, last_message, last_ts, reply_mode, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 'ai', ?, ?)
		 ON CONFLICT (conversation_id) DO UPDATE SET
		   platform_user_id = excluded.platform_user_id,
		   last_message = CASE WHEN excluded.last_ts >= conversations.last_ts
		                       THEN excluded.last_message ELSE conversations.last_message END,
		   last_ts = MAX(conversations.last_ts, excluded.last_ts),
		   updated_at = excluded.updated_at
		 RETURNING `+conversationCols,
		u.ConversationID, u.Channel, u.PlatformUserID, u.LastMessage, u.LastTS.UnixMilli(), now, now)
	c, err := scanConversation(row)
	if err != nil {
		return nil, store.Persistence("upsert conversation", err)
	}
	return c, nil
}

func (s *ConversationStore) GetConversation(ctx context.Context, conversationID string) (*store.ConversationData, error) {
	row := s.d.db.QueryRowContext(ctx,
		`SELECT `+conversationCols+` FROM conversations WHERE conversation_id = ?`, conversationID)
	c, err := scanConversation(row)
	if err != nil {
		return nil, store.Persistence("get conversation", err)
	}
	return c, nil
}

func (s *ConversationStore) ListConversations(ctx context.Context, opts store.ConversationListOpts) ([]store.ConversationData, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = store.DefaultConversationListLimit
	}

	q := `SELECT ` + conversationCols + ` FROM conversations`
	var args []any
	if len(opts.Channels) > 0 {
		q += ` WHERE channel IN (?` + strings.Repeat(", ?", len(opts.Channels)-1) + `)`
		for _, ch := range opts.Channels {
			args = append(args, ch)
		}
	}
	q += ` ORDER BY last_ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.d.db.QueryContext(ctx, q, args...)
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

func (s *ConversationStore) SetReplyMode(ctx context.Context, conversationID string, mode store.ReplyMode) (*store.ConversationData, error) {
	row := s.d.db.QueryRowContext(ctx,
		`UPDATE conversations SET reply_mode = ?, updated_at = ?
		 WHERE conversation_id = ? RETURNING `+conversationCols,
		string(mode), s.d.nowMillis(), conversationID)
	c, err := scanConversation(row)
	if err != nil {
		return nil, store.Persistence("set reply mode", err)
	}
	return c, nil
}

func scanConversation(row rowScanner) (*store.ConversationData, error) {
	var (
		c                        store.ConversationData
		mode                     string
		lastTS, created, updated int64
	)
	err := row.Scan(&c.ConversationID, &c.Channel, &c.PlatformUserID, &c.LastMessage,
		&lastTS, &mode, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.ReplyMode = store.ReplyMode(mode)
	c.LastTS = fromMillis(lastTS)
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}
