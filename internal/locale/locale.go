// Package locale holds the user-facing strings the assistant speaks on its own
// behalf: the session greeting and the apology shown when a backend fails.
//
// Lookups accept a BCP-47 tag and are matched against the supported tags with
// golang.org/x/text/language, so "de-AT" resolves to "de-DE" and an unknown or
// malformed tag resolves to English.
package locale

import (
	"strings"

	"golang.org/x/text/language"
)

// DefaultLanguage is used when a tag cannot be resolved.
const DefaultLanguage = "en-US"

// Strings is the set of texts for one language.
type Strings struct {
	Greeting     string
	ErrorMessage string
}

var table = map[string]Strings{
	"en-US": {
		Greeting:     "Hi! This is Gabby. How can I help you today?",
		ErrorMessage: "Sorry, something went wrong on my side. Please try again.",
	},
	"en-GB": {
		Greeting:     "Hi! This is Gabby. How can I help you today?",
		ErrorMessage: "Sorry, something went wrong on my end. Please try again.",
	},
	"af-ZA": {
		Greeting:     "Hallo! Dit is Gabby. Hoe kan ek jou vandag help?",
		ErrorMessage: "Jammer, iets het verkeerd geloop. Probeer asseblief weer.",
	},
	"de-DE": {
		Greeting:     "Hallo! Hier ist Gabby. Wie kann ich dir heute helfen?",
		ErrorMessage: "Entschuldigung, da ist etwas schiefgelaufen. Bitte versuch es noch einmal.",
	},
	"fr-FR": {
		Greeting:     "Bonjour ! Ici Gabby. Comment puis-je vous aider aujourd'hui ?",
		ErrorMessage: "Désolée, un problème est survenu. Veuillez réessayer.",
	},
	"es-ES": {
		Greeting:     "¡Hola! Soy Gabby. ¿En qué puedo ayudarte hoy?",
		ErrorMessage: "Lo siento, algo salió mal. Por favor, inténtalo de nuevo.",
	},
	"nl-NL": {
		Greeting:     "Hallo! Dit is Gabby. Waarmee kan ik je vandaag helpen?",
		ErrorMessage: "Sorry, er ging iets mis. Probeer het opnieuw.",
	},
}

// supported lists the table keys in matcher order. The first entry is the
// matcher's default.
var supported = []string{"en-US", "en-GB", "af-ZA", "de-DE", "fr-FR", "es-ES", "nl-NL"}

var matcher = func() language.Matcher {
	tags := make([]language.Tag, len(supported))
	for i, s := range supported {
		tags[i] = language.MustParse(s)
	}
	return language.NewMatcher(tags)
}()

// Resolve returns the supported tag that best matches lang.
func Resolve(lang string) string {
	tag, err := parse(lang)
	if err != nil {
		return DefaultLanguage
	}
	_, i, conf := matcher.Match(tag)
	if conf == language.No {
		return DefaultLanguage
	}
	return supported[i]
}

// Lookup returns the strings for lang after resolution.
func Lookup(lang string) Strings {
	return table[Resolve(lang)]
}

// Greeting returns the session greeting for lang.
func Greeting(lang string) string { return Lookup(lang).Greeting }

// ErrorMessage returns the apology for a failed backend call in lang.
func ErrorMessage(lang string) string { return Lookup(lang).ErrorMessage }

// Supported reports whether lang has its own entry, without fallback.
func Supported(lang string) bool {
	tag, err := parse(lang)
	if err != nil {
		return false
	}
	_, ok := table[tag.String()]
	return ok
}

// parse accepts the "en_us" form some browsers report.
func parse(lang string) (language.Tag, error) {
	return language.Parse(strings.ReplaceAll(strings.TrimSpace(lang), "_", "-"))
}
