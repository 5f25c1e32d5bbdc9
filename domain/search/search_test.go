package search

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSearchQuery_Flags(t *testing.T) {
	req := require.New(t)

	// Given a command with flags between terms
	query := NewSearchQuery(`/find "invoice" --conversation c-12 due --from alice --limit 5`)

	// Then flags are extracted and terms kept in order
	req.Equal("invoice due", query.Terms)
	req.Equal("c-12", query.ConversationID)
	req.Equal("alice", query.SenderID)
	req.Equal(5, query.Limit)
}

func TestNewSearchQuery_Defaults(t *testing.T) {
	req := require.New(t)

	query := NewSearchQuery("hello world --limit nope")

	req.Equal("hello world", query.Terms)
	req.Equal(defaultLimit, query.Limit)
	req.Empty(query.ConversationID)
}

func TestNewSearchQuery_OnlyCommand(t *testing.T) {
	req := require.New(t)
	query := NewSearchQuery("/find")
	req.Empty(query.Terms)
}
