package client

import "strings"

const minPasswordLength = 6

// ValidateNewPassword enforces the password policy locally so a bad password
// never reaches the network.
func ValidateNewPassword(password string) error {
	if len(password) < minPasswordLength {
		return &ValidationError{Field: "password", Reason: "must be at least 6 characters"}
	}
	return nil
}

func validateEmail(email string) error {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" || !strings.Contains(trimmed, "@") {
		return &ValidationError{Field: "email", Reason: "must be a valid address"}
	}
	return nil
}
