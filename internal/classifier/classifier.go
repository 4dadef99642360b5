// Package classifier scores call transcripts as successful or not.
//
// The score is a crude phrase-counting heuristic and is best-effort only.
// Phrase lists are data; tune them through the YAML file rather than code.
package classifier

import (
	"errors"
	"strings"
	"sync/atomic"
)

// PhraseSet is the tunable vocabulary. Matching is case-insensitive substring counting.
type PhraseSet struct {
	Positive []string `yaml:"positive" json:"positive"`
	Negative []string `yaml:"negative" json:"negative"`
}

// DefaultPhrases returns the built-in vocabulary.
func DefaultPhrases() PhraseSet {
	return PhraseSet{
		Positive: []string{
			"account adjusted",
			"adjustment made",
			"change completed",
			"updated successfully",
			"modification complete",
			"done",
			"processed",
			"completed",
			"confirmed",
			"yes, that's done",
			"request processed",
			"change applied",
			"update complete",
		},
		Negative: []string{
			"cannot do that",
			"unable to",
			"not authorized",
			"need verification",
			"callback required",
			"supervisor needed",
			"system down",
			"not possible",
			"denied",
			"rejected",
			"error occurred",
		},
	}
}

var ErrNoPhrases = errors.New("classifier: phrase set has no positive phrases")

// normalize lower-cases, trims and de-duplicates. A set without positive
// phrases could never classify anything as a success and is rejected.
func (p PhraseSet) normalize() (PhraseSet, error) {
	out := PhraseSet{Positive: clean(p.Positive), Negative: clean(p.Negative)}
	if len(out.Positive) == 0 {
		return PhraseSet{}, ErrNoPhrases
	}
	return out, nil
}

func clean(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Score is the raw phrase tally behind a classification.
type Score struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
}

func (s Score) Success() bool { return s.Positive > s.Negative }

// Classifier is safe for concurrent use. Reloads swap the phrase set atomically.
type Classifier struct {
	phrases atomic.Pointer[PhraseSet]
}

func New(p PhraseSet) (*Classifier, error) {
	c := &Classifier{}
	if err := c.Replace(p); err != nil {
		return nil, err
	}
	return c, nil
}

// NewDefault returns a classifier with DefaultPhrases.
func NewDefault() *Classifier {
	c, err := New(DefaultPhrases())
	if err != nil {
		panic(err)
	}
	return c
}

// Replace installs a new phrase set. Invalid sets leave the current one in place.
func (c *Classifier) Replace(p PhraseSet) error {
	n, err := p.normalize()
	if err != nil {
		return err
	}
	c.phrases.Store(&n)
	return nil
}

// Phrases returns a copy of the active phrase set.
func (c *Classifier) Phrases() PhraseSet {
	p := c.phrases.Load()
	return PhraseSet{
		Positive: append([]string(nil), p.Positive...),
		Negative: append([]string(nil), p.Negative...),
	}
}

// Score counts every occurrence of every phrase in the lower-cased transcript.
func (c *Classifier) Score(transcript string) Score {
	text := strings.ToLower(transcript)
	if strings.TrimSpace(text) == "" {
		return Score{}
	}
	p := c.phrases.Load()
	var s Score
	for _, ph := range p.Positive {
		s.Positive += strings.Count(text, ph)
	}
	for _, ph := range p.Negative {
		s.Negative += strings.Count(text, ph)
	}
	return s
}

// Classify reports whether positive phrases outnumber negative ones.
// Empty and whitespace-only transcripts are never a success.
func (c *Classifier) Classify(transcript string) bool {
	return c.Score(transcript).Success()
}
