package sink

import (
	"context"
	"log/slog"

	"local-language/contract"
	"local-language/domain/event"
	"local-language/repositories"
)

var _ contract.EventSink = SearchSink{}

// SearchSink reindexes a message each time it changes, so translations
// become searchable once they land.
type SearchSink struct {
	repository repositories.ISearchRepository
	log        *slog.Logger
}

func NewSearchSink(repository repositories.ISearchRepository, log *slog.Logger) SearchSink {
	return SearchSink{repository: repository, log: log}
}

func (s SearchSink) Consume(_ context.Context, e event.DomainEvent) error {
	changed, ok := e.(event.MessageChanged)
	if !ok || changed.Message.ID == "" || changed.Kind == event.Removed {
		return nil
	}
	return s.repository.Index(changed.Message)
}
