// Package safety detects distress signals in sanitized chat messages. A
// detection is informational: it is surfaced to the sender's client as a
// safety banner and never prevents delivery.
package safety

import (
	"strings"
	"unicode"
)

// defaultPhrases are matched case-insensitively as substrings. The list
// covers English and French since the audience is francophone students.
var defaultPhrases = []string{
	// English
	"kill myself",
	"killing myself",
	"end it all",
	"end my life",
	"want to die",
	"wanna die",
	"better off dead",
	"suicide",
	"suicidal",
	"hurt myself",
	"harm myself",
	"self harm",
	"self-harm",
	"cut myself",
	"no reason to live",
	"can't go on",
	"cant go on",

	// French
	"me suicider",
	"me tuer",
	"envie de mourir",
	"veux mourir",
	"en finir",
	"me faire du mal",
	"me scarifier",
	"plus envie de vivre",
	"mettre fin à mes jours",
}

// Signal is the outcome of a detection. Phrase is the first matching entry
// of the phrase list; it is empty when Flagged is false.
type Signal struct {
	Flagged bool   `json:"flagged"`
	Phrase  string `json:"-"`
}

// Detector matches text against a fixed phrase list. It is immutable after
// construction and safe for concurrent use.
type Detector struct {
	phrases []string
}

// NewDetector creates a Detector with the built-in phrase list.
func NewDetector() *Detector {
	return NewDetectorWithPhrases(defaultPhrases)
}

// NewDetectorWithPhrases creates a Detector with a custom phrase list.
// Phrases are normalized the same way as scanned text.
func NewDetectorWithPhrases(phrases []string) *Detector {
	d := &Detector{phrases: make([]string, 0, len(phrases))}
	for _, p := range phrases {
		if n := normalize(p); n != "" {
			d.phrases = append(d.phrases, n)
		}
	}
	return d
}

// Detect scans text for the first matching distress phrase.
func (d *Detector) Detect(text string) Signal {
	norm := normalize(text)
	if norm == "" {
		return Signal{}
	}
	for _, p := range d.phrases {
		if strings.Contains(norm, p) {
			return Signal{Flagged: true, Phrase: p}
		}
	}
	return Signal{}
}

// normalize lowercases s, maps typographic apostrophes to ASCII and folds
// every whitespace run to a single space.
func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("’", "'", "‘", "'").Replace(s)
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
