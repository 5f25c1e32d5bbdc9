package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"local-language/domain"
	"local-language/domain/event"

	"github.com/gookit/color"
)

// ConsoleSink prints the events of the conversation on screen.
type ConsoleSink struct {
	mu      sync.Mutex
	out     io.Writer
	userID  string
	current string
}

func NewConsoleSink(out io.Writer, userID string) *ConsoleSink {
	return &ConsoleSink{out: out, userID: userID}
}

// Focus selects the conversation whose messages are printed.
func (c *ConsoleSink) Focus(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = conversationID
}

func (c *ConsoleSink) Consume(_ context.Context, e event.DomainEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id := e.ConversationID(); id != "" && id != c.current {
		return nil
	}
	switch evt := e.(type) {
	case event.MessageChanged:
		c.printMessage(evt)
	case event.SendFailed:
		c.println(color.New(color.FgRed), "✗ not sent (%v), /retry %s", evt.Err, evt.CorrelationID)
	case event.TypingChanged:
		if evt.IsTyping {
			c.println(color.New(color.FgYellow), "%s is typing...", evt.UserID)
		}
	case event.PresenceChanged:
		state := "offline"
		if evt.Online {
			state = "online"
		}
		c.println(color.New(color.FgGray), "%s is %s", evt.UserID, state)
	case event.MembershipChanged:
		if evt.State == domain.JoinJoined {
			c.println(color.New(color.FgGray), "joined %s", evt.Conversation)
		}
	case event.ConnectionChanged:
		switch {
		case evt.Err != "":
			c.println(color.New(color.FgRed), "connection lost after %d attempts: %s", evt.Attempts, evt.Err)
		case evt.State != domain.Connected:
			c.println(color.New(color.FgRed), "%s", evt.State)
		default:
			c.println(color.New(color.FgGreen), "%s", evt.State)
		}
	case event.CallIncoming:
		c.println(color.New(color.FgMagenta, color.OpBold), "☎ %s is calling", evt.CallerID)
	}
	return nil
}

func (c *ConsoleSink) printMessage(evt event.MessageChanged) {
	message := evt.Message
	if evt.Kind == event.Removed {
		return
	}
	// Updates other than a translation or a status change are noise.
	if evt.Kind == event.Updated && !message.HasTranslation() && message.Status != domain.StatusRead {
		return
	}
	style := color.New(color.FgCyan)
	if message.SenderID == c.userID {
		style = color.New(color.FgGreen)
	}
	c.println(style, "[%s] %s: %s %s", message.Timestamp.Local().Format("15:04"), message.SenderID, message.Text, statusMark(message.Status))
	if message.TranslatedText != nil {
		c.println(color.New(color.FgGray), "        ↳ %s", *message.TranslatedText)
	}
}

func (c *ConsoleSink) println(style color.Style, format string, args ...any) {
	_, _ = fmt.Fprintln(c.out, style.Render(fmt.Sprintf(format, args...)))
}

func statusMark(status domain.DeliveryStatus) string {
	switch status {
	case domain.StatusPending:
		return "…"
	case domain.StatusFailed:
		return "✗"
	case domain.StatusSent:
		return "✓"
	case domain.StatusDelivered:
		return "✓✓"
	case domain.StatusRead:
		return color.Blue.Render("✓✓")
	default:
		return ""
	}
}
