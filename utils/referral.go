package utils

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"regexp"
	"strings"
)

// Reserved words are slugs that collide with system routes or roles. The
// list is permanent: a reserved word can never become somebody's code.
var reservedSlugs = map[string]struct{}{
	"admin":     {},
	"api":       {},
	"app":       {},
	"billing":   {},
	"chat":      {},
	"cron":      {},
	"health":    {},
	"login":     {},
	"logout":    {},
	"r":         {},
	"referral":  {},
	"referrals": {},
	"register":  {},
	"settings":  {},
	"signup":    {},
	"support":   {},
	"uploads":   {},
	"webhooks":  {},
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{2,29}$`)

// IsReservedSlug reports whether the slug collides with a system route.
func IsReservedSlug(slug string) bool {
	_, reserved := reservedSlugs[strings.ToLower(slug)]
	return reserved
}

// ValidateSlug checks the format and reserved-word rules for a referral
// slug. It returns a field-level message suitable for a 400 response.
func ValidateSlug(slug string) error {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("slug must be 3-30 characters of lowercase letters, digits or hyphens, starting with a letter or digit")
	}
	if IsReservedSlug(slug) {
		return fmt.Errorf("slug %q is reserved", slug)
	}
	return nil
}

// NormalizeSlug lowercases and trims a user-entered slug before validation
// and storage.
func NormalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}

// GenerateReferralSlug generates a random referral slug for users who don't
// pick their own. Format: ref-{RANDOM} with 6 base32 characters.
func GenerateReferralSlug() (string, error) {
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}

	randomStr := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(randomBytes)
	randomStr = strings.ToLower(randomStr[:6])

	// keep only [a-z0-9]
	randomStr = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, randomStr)

	if len(randomStr) < 6 {
		randomStr = randomStr + strings.Repeat("0", 6-len(randomStr))
	}

	return "ref-" + randomStr, nil
}

// ReferralLink builds the shareable link for a slug.
func ReferralLink(baseURL, slug string) string {
	return strings.TrimRight(baseURL, "/") + "/r/" + slug
}
