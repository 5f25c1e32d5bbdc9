package domain

import (
	"sort"
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/samber/lo"
)

const DefaultLanguage = "english"

// languageCodes maps the language names stored as user preferences to ISO 639-1.
var languageCodes = map[string]string{
	"hindi":     "hi",
	"tamil":     "ta",
	"telugu":    "te",
	"bengali":   "bn",
	"marathi":   "mr",
	"gujarati":  "gu",
	"kannada":   "kn",
	"malayalam": "ml",
	"punjabi":   "pa",
	"odia":      "or",
	"english":   "en",
	"urdu":      "ur",
	"assamese":  "as",
	"sanskrit":  "sa",
}

var languageNames = lo.Invert(languageCodes)

// LanguageCode accepts a name or a code and returns the code. Unknown
// languages are returned lowercased.
func LanguageCode(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	if code, ok := languageCodes[language]; ok {
		return code
	}
	return language
}

// LanguageName accepts a name or a code and returns the name.
func LanguageName(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	if name, ok := languageNames[language]; ok {
		return name
	}
	return language
}

func SameLanguage(a, b string) bool {
	return LanguageCode(a) == LanguageCode(b)
}

func SupportedLanguage(language string) bool {
	_, ok := languageNames[LanguageCode(language)]
	return ok
}

func SupportedLanguages() []string {
	names := lo.Keys(languageCodes)
	sort.Strings(names)
	return names
}

// DetectLanguage guesses the language name of a text. Anything outside the
// supported set, and empty input, falls back to english.
func DetectLanguage(text string) string {
	if strings.TrimSpace(text) == "" {
		return DefaultLanguage
	}
	info := whatlanggo.Detect(text)
	name, ok := languageNames[info.Lang.Iso6391()]
	if !ok {
		return DefaultLanguage
	}
	return name
}
