package services

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// base58: no 0, O, I or l
const idAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

const (
	// IDLength is the length of case and client ids
	IDLength = 6

	CasePrefix   = "SUF-"
	ClientPrefix = "SUC-"
)

func generateID() (string, error) {
	base := big.NewInt(int64(len(idAlphabet)))
	var b strings.Builder
	b.Grow(IDLength)
	for i := 0; i < IDLength; i++ {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("failed to generate id: %w", err)
		}
		b.WriteByte(idAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// GenerateCaseID returns a random case id
func GenerateCaseID() (string, error) {
	return generateID()
}

// GenerateClientID returns a random client id
func GenerateClientID() (string, error) {
	return generateID()
}

// HumanCaseID formats a case id for display, e.g. SUF-a3Bx9K
func HumanCaseID(id string) string {
	return CasePrefix + id
}

// HumanClientID formats a client id for display
func HumanClientID(id string) string {
	return ClientPrefix + id
}

// StripID removes a SUF- or SUC- prefix, ignoring case
func StripID(humanID string) string {
	humanID = strings.TrimSpace(humanID)
	upper := strings.ToUpper(humanID)
	if strings.HasPrefix(upper, CasePrefix) || strings.HasPrefix(upper, ClientPrefix) {
		return humanID[len(CasePrefix):]
	}
	return humanID
}

// IsValidID reports whether id only uses the id alphabet and has the right length
func IsValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if !strings.ContainsRune(idAlphabet, rune(id[i])) {
			return false
		}
	}
	return true
}
