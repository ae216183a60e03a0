package validate

import "sort"

// DefaultLanguage is used when a request does not name a language.
const DefaultLanguage = "es"

// SupportedLanguages maps every language id the model accepts to its display name.
var SupportedLanguages = map[string]string{
	"ar": "Arabic",
	"da": "Danish",
	"de": "German",
	"el": "Greek",
	"en": "English",
	"es": "Spanish",
	"fi": "Finnish",
	"fr": "French",
	"he": "Hebrew",
	"hi": "Hindi",
	"it": "Italian",
	"ja": "Japanese",
	"ko": "Korean",
	"ms": "Malay",
	"nl": "Dutch",
	"no": "Norwegian",
	"pl": "Polish",
	"pt": "Portuguese",
	"ru": "Russian",
	"sv": "Swedish",
	"sw": "Swahili",
	"tr": "Turkish",
	"zh": "Chinese",
}

// LanguageIDs returns the supported language ids in sorted order.
func LanguageIDs() []string {
	ids := make([]string, 0, len(SupportedLanguages))
	for id := range SupportedLanguages {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// IsSupported reports whether id (already lower-cased) is a supported language.
func IsSupported(id string) bool {
	_, ok := SupportedLanguages[id]

	return ok
}
