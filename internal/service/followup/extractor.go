package followup

import (
	"strings"
	"unicode"
)

// The extraction heuristic below reproduces the production matching rules
// verbatim. It occasionally misfires on sentences that merely contain a
// question idiom; do not tighten the rules without flagging the user-visible
// behavior change.

const (
	// DefaultQuestion is used when no trailing interrogative is found.
	DefaultQuestion = "Is there anything else you would like to know?"

	// FormsQuestion is used when the answer references official form
	// domains but carries no question of its own.
	FormsQuestion = "Do you need help with forms or documents?"

	// minQuestionLen rejects fragments likely to be truncation artifacts.
	minQuestionLen = 10
)

var interrogativeWords = []string{
	"what", "how", "when", "where", "who", "whom", "whose", "why", "which",
	"do", "does", "did", "can", "could", "would", "will", "should", "shall",
	"are", "is", "was", "were", "have", "has", "had", "may", "might",
}

var questionIdioms = []string{
	"can you", "could you", "would you like", "are you", "is there",
	"do you", "did you", "have you", "will you", "what about",
}

var transitionalLeads = []string{
	"also,", "so,", "and,", "additionally,", "now,", "finally,", "well,",
	"also ", "so ", "additionally ",
}

var formDomains = []string{
	"uscis.gov", "travel.state.gov", "state.gov", "canada.ca", "ircc",
	"gov.uk", "dol.gov", "ssa.gov",
}

// Result carries the answer with its trailing interrogative removed and the
// follow-up question to display next.
type Result struct {
	CleanAnswer string
	Question    string
}

// Extract derives a follow-up question from a completed answer. Pure: the
// same input always yields the same pair.
func Extract(answer string) Result {
	units := splitUnits(answer)

	for i := len(units) - 1; i >= 0; i-- {
		unit := strings.TrimSpace(units[i])
		if !strings.Contains(unit, "?") {
			continue
		}
		if len(unit) <= minQuestionLen {
			continue
		}
		if !startsInterrogative(unit) && !containsIdiom(unit) {
			continue
		}

		question := polish(unit)
		clean := removeExact(answer, units[i])
		return Result{CleanAnswer: clean, Question: question}
	}

	if referencesFormDomain(answer) {
		return Result{CleanAnswer: strings.TrimSpace(answer), Question: FormsQuestion}
	}
	return Result{CleanAnswer: strings.TrimSpace(answer), Question: DefaultQuestion}
}

// splitUnits cuts the answer into sentence-like units on '.' and '!',
// keeping the terminator with its unit. The trailing unit may end with '?'.
func splitUnits(s string) []string {
	var units []string
	var b strings.Builder
	for _, r := range s {
		b.WriteRune(r)
		if r == '.' || r == '!' {
			units = append(units, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		units = append(units, b.String())
	}
	return units
}

func startsInterrogative(unit string) bool {
	lower := strings.ToLower(strings.TrimSpace(unit))
	for _, w := range interrogativeWords {
		if strings.HasPrefix(lower, w+" ") {
			return true
		}
	}
	return false
}

func containsIdiom(unit string) bool {
	lower := strings.ToLower(unit)
	for _, idiom := range questionIdioms {
		if strings.Contains(lower, idiom) {
			return true
		}
	}
	return false
}

// polish strips transitional lead-ins, capitalizes the first letter and
// guarantees a trailing question mark.
func polish(unit string) string {
	q := strings.TrimSpace(unit)

	lower := strings.ToLower(q)
	for _, lead := range transitionalLeads {
		if strings.HasPrefix(lower, lead) {
			q = strings.TrimSpace(q[len(lead):])
			break
		}
	}

	if q == "" {
		return DefaultQuestion
	}

	runes := []rune(q)
	runes[0] = unicode.ToUpper(runes[0])
	q = string(runes)

	if !strings.HasSuffix(q, "?") {
		q = strings.TrimRight(q, ".!") + "?"
	}
	return q
}

// removeExact drops the matched sentence from the answer by exact substring,
// never by regeneration, so the clean answer keeps its original wording.
func removeExact(answer, unit string) string {
	clean := strings.Replace(answer, unit, "", 1)
	return strings.TrimSpace(clean)
}

func referencesFormDomain(answer string) bool {
	lower := strings.ToLower(answer)
	for _, d := range formDomains {
		if strings.Contains(lower, d) {
			return true
		}
	}
	return false
}
