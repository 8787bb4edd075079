package identity

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidSubdomain(t *testing.T) {
	tests := []struct {
		label string
		want  bool
	}{
		{"abc", true},
		{"my-brand", true},
		{"123", true},
		{strings.Repeat("a", 30), true},
		{"ab", false},
		{strings.Repeat("a", 31), false},
		{"-abc", false},
		{"abc-", false},
		{"a--b", false},
		{"my_brand", false},
		{"my.brand", false},
		{"MyBrand", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidSubdomain(tt.label))
		})
	}
}

func TestReservedSubdomainsIgnoreCase(t *testing.T) {
	for _, label := range []string{"www", "WWW", "Admin", "api", "NetQR"} {
		assert.True(t, IsReservedSubdomain(label), label)
	}
	assert.False(t, IsReservedSubdomain("brand"))

	_, err := checkSubdomain("Admin")
	requireKind(t, err, KindReservedName)

	_, err = checkSubdomain("a_b")
	requireKind(t, err, KindValidation)

	label, err := checkSubdomain("  MyBrand ")
	require.NoError(t, err)
	assert.Equal(t, "mybrand", label)
}

func TestGenerateCandidate(t *testing.T) {
	id := uuid.MustParse("3f2a9c1e-7b44-4d2a-9e51-0c6f8d2b1a77")

	assert.Equal(t, "3f2a9c1e", GenerateCandidate(id))
	assert.Equal(t, GenerateCandidate(id), GenerateCandidate(id))
	assert.Equal(t, []string{"3f2a9c1e", "3f2a9c1e7b44", "3f2a9c1e7b444d2a", "3f2a9c1e7b444d2a9e510c6f"}, candidateLabels(id))

	for i := 0; i < 50; i++ {
		label := GenerateCandidate(uuid.New())
		assert.Len(t, label, CandidateLength)
		assert.True(t, ValidSubdomain(label), label)
		assert.False(t, IsReservedSubdomain(label), label)
	}
}

func TestValidDomain(t *testing.T) {
	tests := []struct {
		domain string
		want   bool
	}{
		{"example.com", true},
		{"shop.example.co.uk", true},
		{"xn--80ak6aa92e.com", true},
		{"my-shop.io", true},
		{"com", false},
		{"co.uk", false},
		{"localhost", false},
		{"exa mple.com", false},
		{"-bad.com", false},
		{"bad-.com", false},
		{"example.123", false},
		{"example..com", false},
		{strings.Repeat("a", 64) + ".com", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidDomain(tt.domain))
		})
	}
}

func TestNormalizeDomain(t *testing.T) {
	assert.Equal(t, "example.com", NormalizeDomain("  Example.COM. "))
}
