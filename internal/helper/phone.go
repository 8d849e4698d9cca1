package helper

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	validPhoneChars = regexp.MustCompile(`^[\d\s\+\-\(\)]+$`)
	nonDigits       = regexp.MustCompile(`[^\d]`)
)

// NormalizePhone cleans a phone number down to digits in international form.
// A leading 0 is replaced with DEFAULT_COUNTRY_CODE (62 unless overridden).
func NormalizePhone(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", fmt.Errorf("phone number is empty")
	}
	if !validPhoneChars.MatchString(phone) {
		return "", fmt.Errorf("invalid phone number format: contains invalid characters")
	}

	cleaned := nonDigits.ReplaceAllString(phone, "")
	if strings.HasPrefix(cleaned, "0") {
		cleaned = countryCode() + cleaned[1:]
	}

	if len(cleaned) < 8 || len(cleaned) > 15 {
		return "", fmt.Errorf("invalid phone number length")
	}
	return cleaned, nil
}

func countryCode() string {
	if cc := os.Getenv("DEFAULT_COUNTRY_CODE"); cc != "" {
		return cc
	}
	return "62"
}
