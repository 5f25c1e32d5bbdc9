package workers

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"local-language/domain/event"
	"local-language/mocks"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestEventFanout_Fanout(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelError)
	ctrl := gomock.NewController(t)
	first := mocks.NewMockEventSink(ctrl)
	second := mocks.NewMockEventSink(ctrl)

	evt := event.TypingChanged{Conversation: "c1", UserID: "bob", IsTyping: true}
	fanout := NewEventFanout(log, nil, time.Second).Add(first, second)

	// Given both sinks are consumed in order, even if the first one fails
	gomock.InOrder(
		first.EXPECT().Consume(gomock.Any(), evt).Return(fmt.Errorf("disk full")).Times(1),
		second.EXPECT().Consume(gomock.Any(), evt).Return(nil).Times(1),
	)

	// When an event is fanned out
	fanout.Fanout(context.Background(), evt)

	// Then the mocks were satisfied
	req.True(ctrl.Satisfied())
}

func TestEventFanout_SinkTimeout(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelError)
	ctrl := gomock.NewController(t)
	slow := mocks.NewMockEventSink(ctrl)
	fast := mocks.NewMockEventSink(ctrl)

	fanout := NewEventFanout(log, nil, 20*time.Millisecond).Add(slow, fast)

	// Given a sink that only returns when its context ends
	slow.EXPECT().Consume(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ event.DomainEvent) error {
			<-ctx.Done()
			return ctx.Err()
		}).Times(1)
	fast.EXPECT().Consume(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	// When an event is fanned out
	start := time.Now()
	fanout.Fanout(context.Background(), event.PresenceChanged{UserID: "bob", Online: true})

	// Then the slow sink is cut off and the next one still runs
	req.Less(time.Since(start), 500*time.Millisecond)
}

func TestEventFanout_Run(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelError)
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockEventSink(ctrl)
	events := make(chan event.DomainEvent, 2)

	consumed := make(chan event.DomainEvent, 2)
	sink.EXPECT().Consume(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e event.DomainEvent) error {
			consumed <- e
			return nil
		}).Times(2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewEventFanout(log, events, time.Second).Add(sink).Run(ctx) }()

	events <- event.MembershipChanged{Conversation: "c1"}
	events <- event.MembershipChanged{Conversation: "c2"}

	req.Equal("c1", (<-consumed).ConversationID())
	req.Equal("c2", (<-consumed).ConversationID())
	cancel()
	req.NoError(<-done)
}
