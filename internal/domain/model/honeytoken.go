package model

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

type TokenType string

const (
	TokenTypeCreditCard TokenType = "credit_card"
	TokenTypeAPIKey     TokenType = "api_key"
	TokenTypeEmail      TokenType = "email"
	TokenTypeSSN        TokenType = "ssn"
	TokenTypeCustom     TokenType = "custom"
)

func ParseTokenType(s string) (TokenType, error) {
	switch t := TokenType(strings.ToLower(s)); t {
	case TokenTypeCreditCard, TokenTypeAPIKey, TokenTypeEmail, TokenTypeSSN, TokenTypeCustom:
		return t, nil
	}
	return "", fmt.Errorf("unknown token type %q", s)
}

// Honeytoken is a decoy value seeded into a monitored column. AccessCount only
// ever grows and is changed by the access-detection path alone.
type Honeytoken struct {
	ID          string     `json:"id"`
	TokenType   TokenType  `json:"token_type"`
	TokenValue  string     `json:"token_value"`
	TableName   string     `json:"table_name"`
	ColumnName  string     `json:"column_name"`
	CreatedAt   time.Time  `json:"created_at"`
	AccessedAt  *time.Time `json:"accessed_at"`
	AccessCount int64      `json:"access_count"`
}

func NewHoneytoken(tokenType TokenType, value, table, column string) Honeytoken {
	return Honeytoken{
		ID:         generateID(),
		TokenType:  tokenType,
		TokenValue: value,
		TableName:  table,
		ColumnName: column,
		CreatedAt:  Now(),
	}
}

// MatchKey is the form of the value used for lookups. Card numbers are compared
// on digits only so "4000-0000 ..." and "40000000..." are the same token.
func (h Honeytoken) MatchKey() string {
	return NormalizeTokenValue(h.TokenType, h.TokenValue)
}

// NormalizeTokenValue strips separators from card numbers and leaves other
// types untouched.
func NormalizeTokenValue(tokenType TokenType, value string) string {
	if tokenType != TokenTypeCreditCard {
		return value
	}
	return digitsOnly(value)
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// testCardPrefix is a BIN reserved for test cards; real cards never use it.
const testCardPrefix = "400000"

// GenerateTokenValue produces a fresh decoy for tokenType. custom has no
// generator and must be supplied by the caller.
func GenerateTokenValue(tokenType TokenType) (string, error) {
	switch tokenType {
	case TokenTypeCreditCard:
		body := testCardPrefix + randomDigits(9)
		return body + string(rune('0'+luhnCheckDigit(body))), nil
	case TokenTypeAPIKey:
		return "sk_live_" + strings.ReplaceAll(uuid.NewString(), "-", ""), nil
	case TokenTypeEmail:
		return fmt.Sprintf("j.%s@corp-finance.example", randomDigits(6)), nil
	case TokenTypeSSN:
		// 9xx area numbers are never issued.
		d := randomDigits(8)
		return fmt.Sprintf("9%s-%s-%s", d[:2], d[2:4], d[4:]), nil
	case TokenTypeCustom:
		return "", NewValidationError("tokenValue", "custom honeytokens need an explicit value")
	}
	return "", NewValidationError("tokenType", fmt.Sprintf("unsupported token type %q", tokenType))
}

// LuhnValid reports whether the digits of s pass the Luhn checksum.
func LuhnValid(s string) bool {
	d := digitsOnly(s)
	if len(d) < 2 {
		return false
	}
	return luhnCheckDigit(d[:len(d)-1]) == int(d[len(d)-1]-'0')
}

func luhnCheckDigit(body string) int {
	sum := 0
	double := true
	for i := len(body) - 1; i >= 0; i-- {
		n := int(body[i] - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return (10 - sum%10) % 10
}

func randomDigits(n int) string {
	b := make([]byte, n)
	for i := range b {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			b[i] = '0'
			continue
		}
		b[i] = byte('0' + v.Int64())
	}
	return string(b)
}
