package specialist

import (
	"strings"
	"unicode"
)

var positiveWords = map[string]struct{}{
	"beat": {}, "beats": {}, "bullish": {}, "surge": {}, "surges": {}, "soar": {}, "soars": {},
	"rally": {}, "rallies": {}, "gain": {}, "gains": {}, "jump": {}, "jumps": {}, "record": {},
	"strong": {}, "growth": {}, "upgrade": {}, "upgraded": {}, "outperform": {}, "profit": {},
	"profits": {}, "rise": {}, "rises": {}, "higher": {}, "buy": {}, "boost": {}, "boosts": {},
	"optimistic": {}, "approval": {}, "approved": {}, "expands": {}, "wins": {}, "moon": {},
}

var negativeWords = map[string]struct{}{
	"miss": {}, "misses": {}, "bearish": {}, "plunge": {}, "plunges": {}, "drop": {}, "drops": {},
	"fall": {}, "falls": {}, "loss": {}, "losses": {}, "weak": {}, "downgrade": {}, "downgraded": {},
	"underperform": {}, "lawsuit": {}, "probe": {}, "recall": {}, "lower": {}, "sell": {},
	"cut": {}, "cuts": {}, "layoffs": {}, "fraud": {}, "bankruptcy": {}, "decline": {}, "declines": {},
	"slump": {}, "crash": {}, "warning": {}, "dump": {},
}

var negations = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "without": {}, "isn't": {}, "didn't": {}, "won't": {},
}

var catalystWords = []string{
	"earnings", "guidance", "fda", "merger", "acquisition", "acquire", "buyback",
	"dividend", "split", "contract", "partnership", "launch", "sec", "ipo",
}

// Polarity scores text in [-1, 1] as (pos - neg) / (pos + neg). A negation
// flips the next sentiment word.
func Polarity(text string) float64 {
	words := tokenize(text)
	var pos, neg float64
	negate := false
	for _, w := range words {
		if _, ok := negations[w]; ok {
			negate = true
			continue
		}
		_, isPos := positiveWords[w]
		_, isNeg := negativeWords[w]
		if negate && (isPos || isNeg) {
			isPos, isNeg = isNeg, isPos
			negate = false
		}
		if isPos {
			pos++
		}
		if isNeg {
			neg++
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return (pos - neg) / (pos + neg)
}

// HasCatalyst reports whether text mentions a scheduled or corporate catalyst.
func HasCatalyst(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range tokenize(lower) {
		for _, c := range catalystWords {
			if w == c {
				return true
			}
		}
	}
	return false
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
