package models

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// ErrUnsupportedLanguage is returned for languages the assistant cannot serve.
var ErrUnsupportedLanguage = errors.New("unsupported language")

var supportedLanguages = []language.Tag{
	language.English,
	language.Hindi,
}

var languageMatcher = language.NewMatcher(supportedLanguages)

// SupportedLanguages returns the base codes the collaborator accepts.
func SupportedLanguages() []string {
	out := make([]string, 0, len(supportedLanguages))
	for _, t := range supportedLanguages {
		out = append(out, t.String())
	}
	return out
}

// ParseLanguage normalizes a BCP 47 tag ("en", "en-IN", "hi-Deva-IN") to
// the base language code used on the wire.
func ParseLanguage(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrUnsupportedLanguage)
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrUnsupportedLanguage, raw, err)
	}
	_, idx, confidence := languageMatcher.Match(tag)
	if confidence < language.High {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, raw)
	}
	return supportedLanguages[idx].String(), nil
}
