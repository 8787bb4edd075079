package identity

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
)

const (
	MinSubdomainLength = 3
	MaxSubdomainLength = 30

	// CandidateLength is the length of an auto-assigned subdomain
	CandidateLength = 8

	maxDomainLength = 253
	maxLabelLength  = 63
)

var (
	subdomainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*[a-z0-9]$`)
	dnsLabelPattern  = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
	tldPattern       = regexp.MustCompile(`^([a-z]{2,63}|xn--[a-z0-9-]{1,59})$`)

	reservedSubdomains = map[string]struct{}{
		"www":   {},
		"netqr": {},
		"admin": {},
		"api":   {},
	}

	// prefix lengths tried by Assign, shortest first
	candidateLengths = []int{CandidateLength, 12, 16, 24}
)

// NormalizeSubdomain trims and lowercases user input
func NormalizeSubdomain(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ValidSubdomain reports whether label is an acceptable subdomain. The label is expected
// to be normalized already; upper-case input is rejected.
func ValidSubdomain(label string) bool {
	if len(label) < MinSubdomainLength || len(label) > MaxSubdomainLength {
		return false
	}
	if strings.Contains(label, "--") {
		return false
	}
	return subdomainPattern.MatchString(label)
}

// IsReservedSubdomain reports whether label can never be assigned, ignoring case
func IsReservedSubdomain(label string) bool {
	_, ok := reservedSubdomains[NormalizeSubdomain(label)]
	return ok
}

// checkSubdomain normalizes raw and applies the format and reserved-word rules
func checkSubdomain(raw string) (string, error) {
	label := NormalizeSubdomain(raw)
	if !ValidSubdomain(label) {
		return "", newError(KindValidation,
			"subdomain must be %d-%d characters of lowercase letters, digits and single hyphens, starting and ending with a letter or digit",
			MinSubdomainLength, MaxSubdomainLength)
	}
	if IsReservedSubdomain(label) {
		return "", newError(KindReservedName, "subdomain %q is reserved", label)
	}
	return label, nil
}

// GenerateCandidate derives the default subdomain for a tenant from the leading characters
// of its id. The same id always yields the same label.
func GenerateCandidate(tenantID uuid.UUID) string {
	return candidateLabels(tenantID)[0]
}

func candidateLabels(tenantID uuid.UUID) []string {
	hex := strings.ReplaceAll(tenantID.String(), "-", "")
	out := make([]string, 0, len(candidateLengths))
	for _, n := range candidateLengths {
		out = append(out, hex[:n])
	}
	return out
}

// NormalizeDomain trims, lowercases and drops a trailing root dot
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	return strings.TrimSuffix(d, ".")
}

// ValidDomain reports whether domain is a syntactically valid registrable name: at least two
// labels, each a valid DNS label, an alphabetic (or punycode) TLD, and not itself a public suffix.
func ValidDomain(domain string) bool {
	if domain == "" || len(domain) > maxDomainLength {
		return false
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if len(l) == 0 || len(l) > maxLabelLength || !dnsLabelPattern.MatchString(l) {
			return false
		}
	}
	if !tldPattern.MatchString(labels[len(labels)-1]) {
		return false
	}
	suffix, _ := publicsuffix.PublicSuffix(domain)
	return suffix != domain
}
