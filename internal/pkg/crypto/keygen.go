// Package crypto provides credential generation and password hashing for hostbot.
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode"

	"github.com/cloudspb/hostbot/internal/domain"
)

// Character sets and sizes for credential generation
const (
	// passwordChars contains characters used in generated passwords.
	passwordChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"

	// PasswordLength is the length of generated passwords.
	PasswordLength = 12

	// usernameBaseLength caps the name-derived prefix of a username.
	usernameBaseLength = 10

	// DefaultEmailDomain is the mailbox domain of generated panel emails.
	DefaultEmailDomain = "cloudspb.ru"
)

// CredentialGenerator produces fresh panel credentials for a user.
// Every call draws new randomness, so retries after a collision yield
// a different candidate.
type CredentialGenerator struct {
	emailDomain string
}

// NewCredentialGenerator creates a generator issuing emails under emailDomain.
func NewCredentialGenerator(emailDomain string) *CredentialGenerator {
	if emailDomain == "" {
		emailDomain = DefaultEmailDomain
	}
	return &CredentialGenerator{emailDomain: emailDomain}
}

// Generate returns a candidate username, password and email for the user.
func (g *CredentialGenerator) Generate(userID int64, displayName string) domain.Credentials {
	username := GenerateUsername(userID, displayName)
	return domain.Credentials{
		Username: username,
		Password: GeneratePassword(),
		Email:    username + "@" + g.emailDomain,
		UserID:   userID,
	}
}

// GenerateUsername derives a panel username from the display name.
// Result matches [a-zA-Z0-9._-]+ and starts and ends with an alphanumeric.
func GenerateUsername(userID int64, displayName string) string {
	base := strings.ToLower(displayName)
	if base == "" {
		base = "user" + strconv.FormatInt(userID, 10)
	}

	var b strings.Builder
	n := 0
	for _, r := range base {
		if n == usernameBaseLength {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			n++
		}
	}

	username := sanitizeUsername(b.String() + "_" + randomHex(3))
	if username == "" {
		username = "user" + strconv.FormatInt(userID, 10) + randomHex(2)
	}
	return username
}

// GeneratePassword returns a random password of PasswordLength characters.
func GeneratePassword() string {
	result := make([]byte, PasswordLength)
	limit := big.NewInt(int64(len(passwordChars)))
	for i := range result {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic(fmt.Sprintf("crypto/rand failed: %v", err))
		}
		result[i] = passwordChars[n.Int64()]
	}
	return string(result)
}

// sanitizeUsername keeps [a-zA-Z0-9._-] and trims non-alphanumerics at both ends.
func sanitizeUsername(s string) string {
	filtered := strings.Map(func(r rune) rune {
		if isASCIIAlnum(r) || r == '.' || r == '_' || r == '-' {
			return r
		}
		return -1
	}, s)
	return strings.TrimFunc(filtered, func(r rune) bool { return !isASCIIAlnum(r) })
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// randomHex returns n random bytes hex-encoded (2n characters).
func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(buf)
}
