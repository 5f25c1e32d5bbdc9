//go:generate go run go.uber.org/mock/mockgen -source=search.go -destination=../mocks/mock_search_repository.go -package=mocks
package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"local-language/domain"
	"local-language/domain/search"
	"local-language/errors"

	"github.com/blugelabs/bluge"
)

const (
	fieldConversationID = "conversation_id"
	fieldSenderID       = "sender_id"
	fieldText           = "text"
	fieldTranslatedText = "translated_text"
	fieldTimestamp      = "timestamp"
)

type ISearchRepository interface {
	Index(message domain.Message) error
	Search(ctx context.Context, query search.Query) ([]SearchHit, uint64, error)
}

type SearchHit struct {
	MessageID      string
	ConversationID string
	SenderID       string
	Text           string
	TranslatedText string
	Timestamp      time.Time
	Score          float64
}

// SearchRepository indexes confirmed messages, original and translated text,
// for local history search.
type SearchRepository struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewSearchRepository(writer *bluge.Writer, log *slog.Logger) *SearchRepository {
	return &SearchRepository{writer: writer, log: log}
}

// Index adds or replaces the document of a confirmed message.
func (s *SearchRepository) Index(message domain.Message) error {
	if message.ID == "" {
		return fmt.Errorf("index message: %w: missing id", errors.ErrInvalidMessage)
	}
	doc := bluge.NewDocument(message.ID).
		AddField(bluge.NewKeywordField(fieldConversationID, message.ConversationID).StoreValue()).
		AddField(bluge.NewKeywordField(fieldSenderID, message.SenderID).StoreValue()).
		AddField(bluge.NewTextField(fieldText, message.Text).StoreValue()).
		AddField(bluge.NewDateTimeField(fieldTimestamp, message.Timestamp).Sortable().StoreValue())
	if message.TranslatedText != nil {
		doc.AddField(bluge.NewTextField(fieldTranslatedText, *message.TranslatedText).StoreValue())
	}
	return s.writer.Update(doc.ID(), doc)
}

// Search matches the terms against the original or the translated text,
// newest first, and returns the total number of matches.
func (s *SearchRepository) Search(ctx context.Context, query search.Query) ([]SearchHit, uint64, error) {
	if query.Terms == "" {
		return nil, 0, errors.ErrEmptyQuery
	}
	text := bluge.NewBooleanQuery().
		AddShould(bluge.NewMatchQuery(query.Terms).SetField(fieldText)).
		AddShould(bluge.NewMatchQuery(query.Terms).SetField(fieldTranslatedText)).
		SetMinShould(1)
	q := bluge.NewBooleanQuery().AddMust(text)
	if query.ConversationID != "" {
		q.AddMust(bluge.NewTermQuery(query.ConversationID).SetField(fieldConversationID))
	}
	if query.SenderID != "" {
		q.AddMust(bluge.NewTermQuery(query.SenderID).SetField(fieldSenderID))
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 10
	}
	request := bluge.NewTopNSearch(limit, q).
		SortBy([]string{"-" + fieldTimestamp}).
		WithStandardAggregations()

	reader, err := s.writer.Reader()
	if err != nil {
		return nil, 0, fmt.Errorf("open index reader: %w", err)
	}
	defer func() { _ = reader.Close() }()

	iterator, err := reader.Search(ctx, request)
	if err != nil {
		return nil, 0, err
	}
	var hits []SearchHit
	match, err := iterator.Next()
	for err == nil && match != nil {
		hit := SearchHit{Score: match.Score}
		var visitErr error
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				hit.MessageID = string(value)
			case fieldConversationID:
				hit.ConversationID = string(value)
			case fieldSenderID:
				hit.SenderID = string(value)
			case fieldText:
				hit.Text = string(value)
			case fieldTranslatedText:
				hit.TranslatedText = string(value)
			case fieldTimestamp:
				hit.Timestamp, visitErr = bluge.DecodeDateTime(value)
			}
			return visitErr == nil
		})
		if err == nil {
			err = visitErr
		}
		if err != nil {
			break
		}
		hits = append(hits, hit)
		match, err = iterator.Next()
	}
	if err != nil {
		return nil, 0, err
	}
	total := iterator.Aggregations().Count()
	s.log.Debug("Local search", "terms", query.Terms, "hits", len(hits), "total", total)
	return hits, total, nil
}
