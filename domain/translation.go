package domain

// TranslationJob asks for the translation of one confirmed message.
// Generation ties the result to the conversation lifecycle that asked.
type TranslationJob struct {
	ConversationID string
	MessageID      string
	Text           string
	SourceLanguage string
	TargetLanguage string
	Generation     uint64
}
