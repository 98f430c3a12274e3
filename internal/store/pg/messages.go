package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/unibox/internal/bus"
	"github.com/nextlevelbuilder/unibox/internal/store"
)

// PGMessageStore implements store.MessageStore backed by Postgres.
type PGMessageStore struct {
	db *sql.DB
}

func NewPGMessageStore(db *sql.DB) *PGMessageStore {
	return &PGMessageStore{db: db}
}

const messageSelectCols = `id, conversation_id, channel, message_id, sender, type, COALESCE(text, ''), attachments, metadata, timestamp, created_at`

func (s *PGMessageStore) CreateMessage(ctx context.Context, m *store.MessageData) error {
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return store.Persistence("create message", fmt.Errorf("marshal attachments: %w", err))
	}
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return store.Persistence("create message", fmt.Errorf("marshal metadata: %w", err))
	}

	id := store.GenNewID()
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO messages (id, conversation_id, channel, message_id, sender, type, text, attachments, metadata, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)
		 RETURNING created_at`,
		id, m.ConversationID, m.Channel, m.MessageID, string(m.Sender), string(m.Type), m.Text,
		attachments, metadata, m.Timestamp.UTC(),
	).Scan(&m.CreatedAt)
	if isUniqueViolation(err) {
		return &store.DuplicateMessageError{Channel: m.Channel, MessageID: m.MessageID}
	}
	if err != nil {
		return store.Persistence("create message", err)
	}
	m.ID = id
	return nil
}

func (s *PGMessageStore) GetMessage(ctx context.Context, channel, messageID string) (*store.MessageData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageSelectCols+` FROM messages WHERE channel = $1 AND message_id = $2`, channel, messageID)
	m, err := scanMessage(row)
	if err != nil {
		return nil, store.Persistence("get message", err)
	}
	return m, nil
}

func (s *PGMessageStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]store.MessageData, error) {
	if limit <= 0 {
		limit = store.DefaultMessageListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageSelectCols+` FROM messages
		 WHERE conversation_id = $1 ORDER BY created_at ASC, id ASC LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, store.Persistence("list messages", err)
	}
	return scanMessages(rows)
}

func (s *PGMessageStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]store.MessageData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT * FROM (
		   SELECT `+messageSelectCols+` FROM messages
		   WHERE conversation_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2
		 ) recent ORDER BY created_at ASC, id ASC`, conversationID, limit)
	if err != nil {
		return nil, store.Persistence("recent messages", err)
	}
	return scanMessages(rows)
}

func (s *PGMessageStore) LatestBySender(ctx context.Context, conversationID string, sender bus.Sender) (*store.MessageData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageSelectCols+` FROM messages
		 WHERE conversation_id = $1 AND sender = $2 ORDER BY created_at DESC, id DESC LIMIT 1`,
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
		sender, typ           string
		attachments, metadata []byte
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.Channel, &m.MessageID, &sender, &typ, &m.Text,
		&attachments, &metadata, &m.Timestamp, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Sender = bus.Sender(sender)
	m.Type = bus.MessageType(typ)
	if err := decodeJSONColumns(&m, attachments, metadata); err != nil {
		return nil, err
	}
	return &m, nil
}

func decodeJSONColumns(m *store.MessageData, attachments, metadata []byte) error {
	m.Attachments = []bus.Attachment{}
	m.Metadata = map[string]any{}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return fmt.Errorf("decode attachments: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
	}
	return nil
}
