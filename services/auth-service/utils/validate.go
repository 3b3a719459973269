package utils

import (
	"regexp"
	"strings"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// IsValidEmail validates email format
func IsValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// ValidatePassword checks password strength and returns the reason it fails.
func ValidatePassword(password string) (bool, string) {
	if len(password) < 8 {
		return false, "Password must be at least 8 characters"
	}
	// bcrypt ignores everything past 72 bytes.
	if len(password) > 72 {
		return false, "Password too long"
	}
	return true, ""
}

// IsValidNIK validates Indonesian NIK format (16 digits)
func IsValidNIK(nik string) bool {
	if len(nik) != 16 {
		return false
	}
	for _, c := range nik {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// NormalizeEmail lower-cases and trims an address so lookups are exact.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
