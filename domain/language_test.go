package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLanguageCode_AcceptsNamesAndCodes(t *testing.T) {
	req := require.New(t)
	req.Equal("hi", LanguageCode("Hindi"))
	req.Equal("hi", LanguageCode("hi"))
	req.Equal("or", LanguageCode(" odia "))
	req.Equal("klingon", LanguageCode("Klingon"))
	req.Equal("tamil", LanguageName("ta"))
	req.Equal("tamil", LanguageName("tamil"))
}

func TestSameLanguage(t *testing.T) {
	req := require.New(t)
	req.True(SameLanguage("english", "en"))
	req.False(SameLanguage("english", "hindi"))
	req.True(SupportedLanguage("mr"))
	req.False(SupportedLanguage("french"))
}

func TestSupportedLanguages_Sorted(t *testing.T) {
	req := require.New(t)
	languages := SupportedLanguages()
	req.Len(languages, 14)
	req.Equal("assamese", languages[0])
	req.Equal("urdu", languages[len(languages)-1])
}

func TestDetectLanguage(t *testing.T) {
	req := require.New(t)

	// Given a tamil sentence
	// Then the tamil script is recognised
	req.Equal("tamil", DetectLanguage("நான் இன்று மாலை சந்தைக்குச் சென்று காய்கறிகள் வாங்கப் போகிறேன்"))

	// Given an english sentence
	req.Equal("english", DetectLanguage("The weather is beautiful today and we are going to the park together"))

	// Given nothing to detect, english is the fallback
	req.Equal(DefaultLanguage, DetectLanguage("   "))
}
