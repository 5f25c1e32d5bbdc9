package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"local-language/domain"
	"local-language/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	conversationID := flag.String("conversation", "", "Conversation to print, all conversations are listed when empty")
	pages := flag.Int("pages", 1, "Number of pages of 50 messages to print")
	flag.Parse()

	// Another process may hold the lock
	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLogger(nil))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	repository := repositories.NewMessageRepository(db, logs.GetLoggerFromLevel(slog.LevelError), lo.ToPtr(50))
	table := newTable()

	if *conversationID == "" {
		conversations, err := repository.Conversations()
		if err != nil {
			log.Fatal(err)
		}
		table.SetHeader([]string{"Conversation", "Cached", "Last message"})
		for _, id := range conversations {
			messages, _, err := repository.GetMessages(id, nil)
			if err != nil {
				log.Fatal(err)
			}
			last := "-"
			if len(messages) > 0 {
				last = messages[len(messages)-1].Timestamp.Local().Format("2006-01-02 15:04:05")
			}
			count := fmt.Sprint(len(messages))
			if len(messages) == 50 {
				count = "50+"
			}
			table.Append([]string{id, count, last})
		}
		table.Render()
		return
	}

	var messages []domain.Message
	var cursor *string
	for range *pages {
		page, next, err := repository.GetMessages(*conversationID, cursor)
		if err != nil {
			log.Fatal(err)
		}
		messages = append(page, messages...)
		if len(page) == 0 {
			break
		}
		cursor = next
	}

	table.SetHeader([]string{"Time", "ID", "Sender", "Status", "Lang", "Text", "Translation"})
	for _, m := range messages {
		table.Append([]string{
			m.Timestamp.Local().Format("15:04:05"),
			shortID(m.ID),
			m.SenderID,
			string(m.Status),
			domain.LanguageCode(m.SourceLanguage),
			m.Text,
			lo.FromPtr(m.TranslatedText),
		})
	}
	table.Render()
}

func newTable() *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

// shortID keeps the first 8 characters for readability.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
