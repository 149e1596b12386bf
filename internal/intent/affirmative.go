package intent

import (
	"strings"
	"unicode"
)

// affirmativePhrases are utterances that approve a staged plan. Multi-word
// phrases are matched as whole token runs.
var affirmativePhrases = [][]string{
	{"yes"}, {"yep"}, {"yeah"}, {"yup"}, {"y"}, {"sure"}, {"ok"}, {"okay"}, {"k"},
	{"confirm"}, {"confirmed"}, {"approve"}, {"approved"}, {"agreed"},
	{"perfect"}, {"great"}, {"good"}, {"absolutely"}, {"definitely"},
	{"do", "it"}, {"go", "ahead"}, {"go", "for", "it"}, {"ship", "it"},
	{"sounds", "good"}, {"sounds", "great"}, {"looks", "good"}, {"looks", "great"},
	{"lets", "do", "it"}, {"lets", "go"}, {"lets", "do", "this"},
	{"save", "it"}, {"make", "it", "so"}, {"i", "approve"}, {"that", "works"},
}

// fillers may surround affirmative phrases without changing their meaning.
var fillers = map[string]bool{
	"please": true, "thanks": true, "thank": true, "you": true, "now": true,
	"then": true, "sir": true, "cool": true, "alright": true, "all": true, "right": true,
}

// IsAffirmative reports whether msg consists only of approval phrases and
// filler words, such as "yes", "ok do it" or "Sounds good, thanks!".
func IsAffirmative(msg string) bool {
	tokens := tokenize(msg)
	if len(tokens) == 0 {
		return false
	}
	matched := false
	for i := 0; i < len(tokens); {
		if n := matchPhrase(tokens[i:]); n > 0 {
			matched = true
			i += n
			continue
		}
		if fillers[tokens[i]] {
			i++
			continue
		}
		return false
	}
	return matched
}

func matchPhrase(tokens []string) int {
	best := 0
	for _, p := range affirmativePhrases {
		if len(p) > len(tokens) || len(p) <= best {
			continue
		}
		ok := true
		for j, w := range p {
			if tokens[j] != w {
				ok = false
				break
			}
		}
		if ok {
			best = len(p)
		}
	}
	return best
}

func tokenize(msg string) []string {
	msg = strings.ToLower(msg)
	msg = strings.NewReplacer("'", "", "’", "").Replace(msg)
	return strings.FieldsFunc(msg, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
