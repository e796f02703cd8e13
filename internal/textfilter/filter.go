// Package textfilter sanitizes inbound message text: markup is stripped to
// plain text and profanity is either masked or rejected depending on the
// configured mode.
package textfilter

import (
	"errors"
	"strings"

	goaway "github.com/TwiN/go-away"
	"github.com/microcosm-cc/bluemonday"
)

type Mode string

const (
	// ModeSoft masks matched terms and lets the message through.
	ModeSoft Mode = "soft"
	// ModeBlock rejects the whole message when a term matches.
	ModeBlock Mode = "block"
	// ModeOff skips profanity detection entirely. Markup is still stripped.
	ModeOff Mode = "off"
)

// ErrBlocked is returned in block mode when the text contains a filtered term.
var ErrBlocked = errors.New("content blocked")

type Filter struct {
	mode     Mode
	policy   *bluemonday.Policy
	detector *goaway.ProfanityDetector
}

func New(mode Mode) *Filter {
	return &Filter{
		mode:     mode,
		policy:   bluemonday.StrictPolicy(),
		detector: goaway.NewProfanityDetector(),
	}
}

func (f *Filter) Mode() Mode { return f.mode }

// Clean truncates to maxLen runes, strips all markup, then applies the
// profanity policy. The returned text may be empty; deciding whether an
// empty message is acceptable is the caller's concern.
func (f *Filter) Clean(text string, maxLen int) (string, error) {
	if runes := []rune(text); len(runes) > maxLen {
		text = string(runes[:maxLen])
	}

	clean := strings.TrimSpace(f.policy.Sanitize(text))
	if clean == "" {
		return "", nil
	}

	switch f.mode {
	case ModeBlock:
		if f.detector.IsProfane(clean) {
			return "", ErrBlocked
		}
	case ModeSoft:
		if f.detector.IsProfane(clean) {
			clean = f.detector.Censor(clean)
		}
	}
	return clean, nil
}

// Strip truncates and removes markup without applying the profanity
// policy. Used for fields that are displayed but never filtered, like
// nicknames and reply excerpts.
func (f *Filter) Strip(text string, maxLen int) string {
	if runes := []rune(text); len(runes) > maxLen {
		text = string(runes[:maxLen])
	}
	return strings.TrimSpace(f.policy.Sanitize(text))
}
