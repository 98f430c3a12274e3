package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/unibox/internal/store"
)

func TestPadMeasuresCells(t *testing.T) {
	assert.Equal(t, "ab  ", pad("ab", 4))
	assert.Equal(t, 6, runewidth.StringWidth(pad("Nguyễn", 6)))
	assert.Equal(t, 4, runewidth.StringWidth(pad("東京", 4)))
	assert.Equal(t, 5, runewidth.StringWidth(pad("東京大学です", 5)))
}

func TestPrintConversationsAligns(t *testing.T) {
	var buf bytes.Buffer
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)
	printConversations(&buf, []store.ConversationData{
		{ConversationID: "telegram:555", ReplyMode: store.ReplyModeAI, LastTS: ts, LastMessage: "xin chào\nbạn"},
		{ConversationID: "whatsapp:849", ReplyMode: store.ReplyModeManual, LastTS: ts, LastMessage: strings.Repeat("界", 30)},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "CONVERSATION"))
	assert.Contains(t, lines[1], "xin chào bạn")
	assert.Contains(t, lines[2], "manual")
	assert.LessOrEqual(t, runewidth.StringWidth(lines[2]), 28+2+6+2+16+2+previewWidth)
}
