package util

import (
	"strings"
	"unicode"
)

// maxNameWords bounds how much of a task description leaks into a derived
// session name.
const maxNameWords = 4

// stopwords are skipped when deriving a name so that filler like "please fix
// the build" becomes "fix-build".
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "for": true, "in": true, "of": true,
	"on": true, "or": true, "please": true, "the": true, "to": true,
	"with": true,
}

// NameFromTask derives a short kebab-case session name from a free-form task
// description. Returns "session" when nothing usable remains.
func NameFromTask(task string) string {
	var words []string
	for _, w := range strings.FieldsFunc(task, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		w = strings.ToLower(w)
		if stopwords[w] {
			continue
		}
		words = append(words, w)
		if len(words) == maxNameWords {
			break
		}
	}
	if len(words) == 0 {
		return "session"
	}
	return strings.Join(words, "-")
}
