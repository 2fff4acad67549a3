package schema

import (
	"strings"
	"time"
)

// NormalizeEmail trims and lower-cases an email address and checks its shape.
func NormalizeEmail(value string) (Email, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return "", ErrUserRequired
	}
	at := strings.IndexByte(trimmed, '@')
	if at <= 0 || at == len(trimmed)-1 || strings.ContainsAny(trimmed, " \t\r\n") {
		return "", ErrInvalidEmail
	}
	return Email(trimmed), nil
}

// EqualEmail compares two addresses case-insensitively, ignoring surrounding space.
func EqualEmail(a, b Email) bool {
	return strings.EqualFold(strings.TrimSpace(string(a)), strings.TrimSpace(string(b)))
}

// NormalizeUser validates a name/email pair for a session.
func NormalizeUser(name, email string) (User, error) {
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" || strings.TrimSpace(email) == "" {
		return User{}, ErrUserRequired
	}
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return User{}, err
	}
	return User{Name: trimmedName, Email: normalized}, nil
}

// NormalizeConfidence matches a confidence label case-insensitively.
func NormalizeConfidence(value string) (Confidence, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", ErrMissingConfidence
	}
	for _, level := range ConfidenceLevels {
		if strings.EqualFold(string(level), trimmed) {
			return level, nil
		}
	}
	return "", ErrInvalidConfidence
}

// ClampSNOT22 forces a score into the accepted range.
func ClampSNOT22(score int) int {
	if score < MinSNOT22 {
		return MinSNOT22
	}
	if score > MaxSNOT22 {
		return MaxSNOT22
	}
	return score
}

// ValidatePrediction checks every prediction field.
func ValidatePrediction(p Prediction) error {
	if !p.Row.Valid() {
		return ErrBadRow
	}
	if p.Outcome != OutcomeUnsuccessful && p.Outcome != OutcomeSuccessful {
		return ErrInvalidOutcome
	}
	if _, err := NormalizeConfidence(string(p.Confidence)); err != nil {
		return err
	}
	if p.SNOT22 < MinSNOT22 || p.SNOT22 > MaxSNOT22 {
		return ErrInvalidSNOT22
	}
	return nil
}

// NormalizePrediction validates a prediction and canonicalizes its confidence label.
func NormalizePrediction(p Prediction) (Prediction, error) {
	if err := ValidatePrediction(p); err != nil {
		return Prediction{}, err
	}
	p.Confidence, _ = NormalizeConfidence(string(p.Confidence))
	return p, nil
}

// FormatTimestamp renders a time the way roster cells store it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// ParseTimestamp reads a roster timestamp cell.
func ParseTimestamp(value string) (time.Time, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
