package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/unibox/internal/bus"
	"github.com/nextlevelbuilder/unibox/internal/store"
)

// MessageStore implements store.MessageStore on SQLite.
type MessageStore struct {
	d *DB
}

const messageCols = `id, conversation_id, channel, message_id, sender, type, text, attachments, metadata, timestamp, created_at`

func (s *MessageStore) CreateMessage(ctx context.Context, m *store.MessageData) error {
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return store.Persistence("create message", fmt.Errorf("marshal attachments: %w", err))
	}
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return store.Persistence("create message", fmt.Errorf("marshal metadata: %w", err))
	}

	id := store.GenNewID()
	created := s.d.nowMillis()
	_, err = s.d.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), m.ConversationID, m.Channel, m.MessageID, string(m.Sender), string(m.Type), m.Text,
		string(attachments), string(metadata), m.Timestamp.UnixMilli(), created)
	if isUniqueViolation(err) {
		return &store.DuplicateMessageError{Channel: m.Channel, MessageID: m.MessageID}
	}
	if err != nil {
		return store.Persistence("create message", err)
	}
	m.ID = id
	m.CreatedAt = fromMillis(created)
	return nil
}

func (s *MessageStore) GetMessage(ctx context.Context, channel, messageID string) (*store.MessageData, error) {
	row := s.d.db.QueryRowContext(ctx,
		`SELECT `+messageCols+` FROM messages WHERE channel = ? AND message_id = ?`, channel, messageID)
	m, err := scanMessage(row)
	if err != nil {
		return nil, store.Persistence("get message", err)
	}
	return m, nil
}

func (s *MessageStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]store.MessageData, error) {
	if limit <= 0 {
		limit = store.DefaultMessageListLimit
	}
	rows, err := s.d.db.QueryContext(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE conversation_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, store.Persistence("list messages", err)
	}
	return scanMessages(rows)
}

func (s *MessageStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]store.MessageData, error) {
	rows, err := s.d.db.QueryContext(ctx,
		`SELECT * FROM (
		   SELECT `+messageCols+` FROM messages
		   WHERE conversation_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
		 ) ORDER BY created_at ASC, id ASC`, conversationID, limit)
	if err != nil {
		return nil, store.Persistence("recent messages", err)
	}
	return scanMessages(rows)
}

func (s *MessageStore) LatestBySender(ctx context.Context, conversationID string, sender bus.Sender) (*store.MessageData, error) {
	row := s.d.db.QueryRowContext(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE conversation_id = ? AND sender = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		conversationID, string(sender))
	m, err := scanMessage(row)
	if err != nil {
		return nil, store.Persistence("latest message", err)
	}
	return m, nil
}

func scanMessages(rows *sql.Rows) ([]store.MessageData, error) {
	defer rows.Close()
	var out []store.MessageData
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, store.Persistence("scan messages", err)
		}
		out = append(out, *m)
	}
	return out, store.Persistence("scan messages", rows.Err())
}

func scanMessage(row rowScanner) (*store.MessageData, error) {
	var (
		m                     store.MessageData
		id, sender, typ       string
		attachments, metadata string
		ts, created           int64
	)
	err := row.Scan(&id, &m.ConversationID, &m.Channel, &m.MessageID, &sender, &typ, &m.Text,
		&attachments, &metadata, &ts, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse message id: %w", err)
	}
	m.Sender = bus.Sender(sender)
	m.Type = bus.MessageType(typ)
	m.Timestamp = fromMillis(ts)
	m.CreatedAt = fromMillis(created)

	m.Attachments = []bus.Attachment{}
	m.Metadata = map[string]any{}
	if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &m, nil
}
