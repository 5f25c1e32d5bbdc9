package sink

import (
	"context"
	"fmt"
	"log/slog"

	"local-language/contract"
	"local-language/domain/event"
	"local-language/repositories"
)

var _ contract.EventSink = DiskSink{}

// DiskSink keeps the local cache in line with every confirmed message.
type DiskSink struct {
	repository repositories.IMessageRepository
	log        *slog.Logger
}

func NewDiskSink(repository repositories.IMessageRepository, log *slog.Logger) DiskSink {
	return DiskSink{repository: repository, log: log}
}

func (d DiskSink) Consume(_ context.Context, e event.DomainEvent) error {
	switch evt := e.(type) {
	case event.MessageChanged:
		if evt.Message.ID == "" || evt.Kind == event.Removed {
			return nil
		}
		return d.repository.StoreMessage(evt.Message)
	default:
		d.log.Debug(fmt.Sprintf("Not implemented event : %T", evt))
		return nil
	}
}
