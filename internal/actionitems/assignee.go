package actionitems

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultMatchThreshold is the minimum Jaro-Winkler similarity for an
// assignee to be replaced by a participant it sounds like.
const DefaultMatchThreshold = 0.85

// unassignedAliases are assignee values that mean nobody took the task.
var unassignedAliases = []string{"", "unassigned", "none", "not specified", "unspecified", "n/a"}

// Canonicalizer maps assignee names as the model spelled them onto the
// meeting's participant list. Transcription misspells names ("Shaun" for
// "Sean", "Kathryn" for "Catherine"), and the model copies the misspelling.
//
// A Canonicalizer is read-only after construction and safe for concurrent
// use.
type Canonicalizer struct {
	participants []participant
	threshold    float64
}

type participant struct {
	name   string
	tokens []string
	codes  map[string]struct{}
}

// NewCanonicalizer indexes participants. Blank names are ignored.
func NewCanonicalizer(participants []string, threshold float64) *Canonicalizer {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	c := &Canonicalizer{threshold: threshold}
	for _, p := range participants {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		tokens := strings.Fields(strings.ToLower(p))
		c.participants = append(c.participants, participant{name: p, tokens: tokens, codes: metaphoneCodes(tokens)})
	}
	return c
}

// Canonical returns the participant assignee refers to, or assignee itself
// when no participant both shares a Double Metaphone code with it and clears
// the similarity threshold.
func (c *Canonicalizer) Canonical(assignee string) string {
	if c == nil || len(c.participants) == 0 {
		return assignee
	}
	tokens := strings.Fields(strings.ToLower(assignee))
	if len(tokens) == 0 {
		return assignee
	}
	codes := metaphoneCodes(tokens)

	best, bestScore := "", 0.0
	for _, p := range c.participants {
		if !overlap(codes, p.codes) {
			continue
		}
		score := similarity(tokens, p.tokens)
		if score >= c.threshold && score > bestScore {
			best, bestScore = p.name, score
		}
	}
	if best == "" {
		return assignee
	}
	return best
}

// normalizeAssignee maps empty and "nobody" spellings to [meeting.Unassigned].
func normalizeAssignee(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, alias := range unassignedAliases {
		if strings.EqualFold(s, alias) {
			return "", false
		}
	}
	return s, true
}

func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score between the full names or any
// pair of name tokens, so "Dana" matches "Dana Scully".
func similarity(a, b []string) float64 {
	score := matchr.JaroWinkler(strings.Join(a, " "), strings.Join(b, " "), false)
	for _, x := range a {
		for _, y := range b {
			if s := matchr.JaroWinkler(x, y, false); s > score {
				score = s
			}
		}
	}
	return score
}
