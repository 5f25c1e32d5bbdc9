package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"local-language/services"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

const help = `/list                     conversations
/new <email>              start a conversation
/open <number|id>         open a conversation
/close                    leave the open conversation
/read                     mark partner messages read
/retry <correlation id>   resend a failed message
/call                     ring the partner
/history                  cached messages
/find <terms> [--from <user>] [--conversation <id>] [--limit <n>]
/languages                supported languages
/quit
anything else is sent to the open conversation`

// Terminal is a line based front end over the chat service.
type Terminal struct {
	service       *services.ChatService
	console       *ConsoleSink
	in            io.Reader
	out           io.Writer
	conversations []services.ConversationSummary
	current       string
}

func NewTerminal(service *services.ChatService, console *ConsoleSink, in io.Reader, out io.Writer) *Terminal {
	return &Terminal{service: service, console: console, in: in, out: out}
}

// Run reads commands until /quit, end of input or ctx is done.
func (t *Terminal) Run(ctx context.Context) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(t.in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	t.printf("%s\n", color.New(color.BgBlack, color.FgGreen).Render(" local-language, signed in as "+t.service.UserID()+" "))
	t.printf("%s\n", help)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := t.handle(ctx, strings.TrimSpace(line)); quit {
				return
			}
		}
	}
}

func (t *Terminal) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	command, argument, _ := strings.Cut(line, " ")
	argument = strings.TrimSpace(argument)

	var err error
	switch command {
	case "/quit", "/exit":
		t.closeCurrent(ctx)
		return true
	case "/help":
		t.printf("%s\n", help)
	case "/list":
		err = t.list(ctx)
	case "/new":
		err = t.start(ctx, argument)
	case "/open":
		err = t.open(ctx, argument)
	case "/close":
		t.closeCurrent(ctx)
	case "/read":
		err = t.inConversation(func(id string) error { return t.service.MarkAllRead(ctx, id) })
	case "/retry":
		err = t.inConversation(func(id string) error { return t.service.Retry(ctx, id, argument) })
	case "/call":
		err = t.inConversation(func(id string) error { return t.service.RequestCall(ctx, id) })
	case "/history":
		err = t.inConversation(func(id string) error { return t.history(id) })
	case "/find":
		err = t.find(ctx, line)
	case "/languages":
		var languages []string
		if languages, err = t.service.Languages(ctx); err == nil {
			t.printf("%s\n", strings.Join(languages, ", "))
		}
	default:
		if strings.HasPrefix(command, "/") {
			err = fmt.Errorf("unknown command %s, try /help", command)
			break
		}
		err = t.inConversation(func(id string) error {
			_, sendErr := t.service.Send(ctx, id, line)
			return sendErr
		})
	}
	if err != nil {
		t.printf("%s\n", color.Red.Render(err.Error()))
	}
	return false
}

func (t *Terminal) list(ctx context.Context) error {
	conversations, err := t.service.Conversations(ctx)
	if err != nil {
		return err
	}
	t.conversations = conversations

	table := tablewriter.NewWriter(t.out)
	table.SetHeader([]string{"#", "Partner", "Language", "Last activity", "Conversation"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	for i, summary := range conversations {
		table.Append([]string{
			strconv.Itoa(i + 1),
			summary.Partner.Name,
			summary.Partner.Language(),
			summary.Conversation.LastActivity().Local().Format("02 Jan 15:04"),
			summary.Conversation.ID,
		})
	}
	table.Render()
	return nil
}

func (t *Terminal) start(ctx context.Context, email string) error {
	conversation, err := t.service.StartConversation(ctx, email)
	if err != nil {
		return err
	}
	return t.open(ctx, conversation.ID)
}

func (t *Terminal) open(ctx context.Context, argument string) error {
	conversationID := argument
	if n, err := strconv.Atoi(argument); err == nil && n >= 1 && n <= len(t.conversations) {
		conversationID = t.conversations[n-1].Conversation.ID
	}
	if conversationID == t.current {
		return nil
	}
	t.closeCurrent(ctx)
	t.console.Focus(conversationID)
	if err := t.service.Open(ctx, conversationID); err != nil {
		t.console.Focus("")
		return err
	}
	t.current = conversationID
	return nil
}

func (t *Terminal) closeCurrent(ctx context.Context) {
	if t.current == "" {
		return
	}
	if err := t.service.Close(ctx, t.current); err != nil {
		t.printf("%s\n", color.Red.Render(err.Error()))
	}
	t.console.Focus("")
	t.current = ""
}

func (t *Terminal) history(conversationID string) error {
	messages, _, err := t.service.CachedMessages(conversationID, nil)
	if err != nil {
		return err
	}
	for _, message := range messages {
		t.printf("[%s] %s: %s %s\n", message.Timestamp.Local().Format("02 Jan 15:04"), message.SenderID, message.Text, statusMark(message.Status))
		if message.TranslatedText != nil {
			t.printf("        ↳ %s\n", *message.TranslatedText)
		}
	}
	return nil
}

func (t *Terminal) find(ctx context.Context, line string) error {
	hits, total, err := t.service.Search(ctx, line)
	if err != nil {
		return err
	}
	t.printf("%d match(es)\n", total)
	for _, hit := range hits {
		text := hit.Text
		if hit.TranslatedText != "" {
			text += " (" + hit.TranslatedText + ")"
		}
		t.printf("[%s] %s in %s: %s\n", hit.Timestamp.Local().Format("02 Jan 15:04"), hit.SenderID, hit.ConversationID, text)
	}
	return nil
}

func (t *Terminal) inConversation(do func(conversationID string) error) error {
	if t.current == "" {
		return fmt.Errorf("no open conversation, use /open")
	}
	return do(t.current)
}

func (t *Terminal) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(t.out, format, args...)
}
