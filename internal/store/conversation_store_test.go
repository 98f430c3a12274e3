package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nextlevelbuilder/unibox/internal/bus"
)

func TestPreview(t *testing.T) {
	tests := []struct {
		name string
		msg  bus.Message
		want string
	}{
		{"text", bus.Message{Type: bus.TypeText, Text: "hello"}, "hello"},
		{"attachment", bus.Message{Type: bus.TypeImage, Attachments: []bus.Attachment{{Type: bus.AttachmentVideo, URL: "u"}}}, "[video attachment]"},
		{"bare type", bus.Message{Type: bus.TypeTemplate}, "[template]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Preview(tt.msg))
		})
	}
}

func TestPersistenceWrapping(t *testing.T) {
	assert.NoError(t, Persistence("op", nil))
	assert.ErrorIs(t, Persistence("op", ErrNotFound), ErrNotFound)

	dup := &DuplicateMessageError{Channel: "telegram", MessageID: "10"}
	assert.Same(t, dup, Persistence("op", dup))

	var pe *PersistenceError
	err := Persistence("insert", errors.New("disk full"))
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, "insert: disk full", err.Error())
}
