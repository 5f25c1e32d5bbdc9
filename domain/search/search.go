package search

import (
	"strconv"
	"strings"
)

const defaultLimit = 10

// Query represents the structured parameters for a local history search.
// It decouples the raw chat input from the actual index requirements.
type Query struct {
	RawInput       string // The original input from the user
	Terms          string // The actual text to search in Bluge
	ConversationID string // Restricts hits to one conversation when set
	SenderID       string
	Limit          int // Number of results
}

// NewSearchQuery parses a raw string to extract command-line style arguments.
// Example: /find invoice --conversation 12 --from alice --limit 5
func NewSearchQuery(input string) *Query {
	query := &Query{
		RawInput: input,
		Limit:    defaultLimit,
	}

	parts := strings.Fields(input)
	var textTerms []string

	for i := 0; i < len(parts); i++ {
		part := parts[i]

		if strings.HasPrefix(part, "--") && i+1 < len(parts) {
			key := strings.TrimPrefix(part, "--")
			val := parts[i+1]

			switch key {
			case "conversation":
				query.ConversationID = val
			case "from":
				query.SenderID = val
			case "limit":
				if limit, err := strconv.Atoi(val); err == nil && limit > 0 {
					query.Limit = limit
				}
			}
			i++ // Skip the value part in next iteration
			continue
		}

		// Commands like /find are not search terms
		if !strings.HasPrefix(part, "/") {
			textTerms = append(textTerms, strings.Trim(part, `"`))
		}
	}

	query.Terms = strings.TrimSpace(strings.Join(textTerms, " "))
	return query
}
