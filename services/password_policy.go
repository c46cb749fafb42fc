package services

import "unicode"

// MinPasswordLength is the shortest password accepted for staff accounts
const MinPasswordLength = 12

// ValidatePassword checks that a staff password is long enough and mixes
// upper and lower case letters, digits and symbols
func ValidatePassword(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return ValidationError("password-too-short", "password must be at least %d characters long", MinPasswordLength)
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	switch {
	case !hasUpper:
		return ValidationError("password-weak", "password must contain at least one uppercase letter")
	case !hasLower:
		return ValidationError("password-weak", "password must contain at least one lowercase letter")
	case !hasNumber:
		return ValidationError("password-weak", "password must contain at least one number")
	case !hasSpecial:
		return ValidationError("password-weak", "password must contain at least one special character")
	}
	return nil
}
