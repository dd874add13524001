package tracker

import (
	"strings"
	"unicode/utf8"
)

// Connectives that may sit between a field label and its value, e.g. "the address is ...".
var connectives = []string{"is ", "are ", "es ", "son ", "será ", "would be ", "sería "}

// fieldLabel turns a field name like "horario_atencion" into "horario atencion".
func fieldLabel(field string) string {
	return strings.ToLower(strings.NewReplacer("_", " ", "-", " ").Replace(field))
}

// mentionedMissing lists missing fields whose label appears in an agent utterance.
// Those are treated as questions awaiting the counterpart's reply.
func (t *Tracker) mentionedMissing(agentText string) []string {
	lower := strings.ToLower(agentText)
	var asked []string
	for _, f := range t.fields {
		if t.valueLocked(f) != "" {
			continue
		}
		if strings.Contains(lower, fieldLabel(f)) {
			asked = append(asked, f)
		}
	}
	return asked
}

// scanCandidates looks for "label: value" style mentions in a counterpart utterance.
// Failing that, a reply to a question about exactly one field becomes that field's candidate.
func (t *Tracker) scanCandidates(text string) {
	matched := false
	for _, f := range t.fields {
		if _, ok := t.authoritative[f]; ok {
			continue
		}
		if v, ok := labeledValue(text, fieldLabel(f)); ok {
			t.candidates[f] = v
			matched = true
		}
	}
	if matched || len(t.asked) != 1 {
		return
	}
	f := t.asked[0]
	if _, ok := t.authoritative[f]; ok {
		return
	}
	if v := trimValue(text); v != "" {
		t.candidates[f] = v
	}
}

func labeledValue(text, label string) (string, bool) {
	if label == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	i := strings.Index(lower, label)
	if i < 0 {
		return "", false
	}
	// Lowercasing can change byte lengths for some scripts; fall back to the lowered text then.
	src := text
	if len(lower) != len(text) || !utf8.ValidString(text) {
		src = lower
	}
	rest := strings.TrimLeft(src[i+len(label):], " \t:=-")
	restLower := strings.ToLower(rest)
	for _, c := range connectives {
		if strings.HasPrefix(restLower, c) {
			rest = rest[len(c):]
			break
		}
	}
	v := trimValue(rest)
	return v, v != ""
}

// trimValue cuts at the first sentence terminator and strips surrounding noise.
func trimValue(s string) string {
	if i := strings.IndexAny(s, ".!?\n"); i >= 0 {
		// Keep decimals and times like "9.30" intact.
		for i >= 0 && s[i] == '.' && i+1 < len(s) && s[i+1] >= '0' && s[i+1] <= '9' {
			next := strings.IndexAny(s[i+1:], ".!?\n")
			if next < 0 {
				i = -1
				break
			}
			i += 1 + next
		}
		if i >= 0 {
			s = s[:i]
		}
	}
	return strings.Trim(strings.TrimSpace(s), " ,;:\"'¿¡")
}
