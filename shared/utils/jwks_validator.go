package utils

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// maxJWKSBody caps how much of the key endpoint's response is read
const maxJWKSBody = 1 << 20

// ErrUnknownKey is returned when no published key matches a token's kid
var ErrUnknownKey = errors.New("no signing key for kid")

// JWK is one entry of a published key set. Only RSA signing keys are used.
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is the document served at a user pool's jwks.json
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// keySet is an immutable snapshot of the published keys
type keySet struct {
	byKid     map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// JWKSValidator checks RS256 tokens issued by a Cognito user pool. Readers work on the
// current snapshot without locking; fetches are serialized.
type JWKSValidator struct {
	url          string
	client       *http.Client
	refetchEvery time.Duration

	current atomic.Pointer[keySet]
	fetchMu sync.Mutex
}

// NewJWKSValidator returns a validator for the key set at url. Nothing is fetched until the
// first token arrives.
func NewJWKSValidator(url string, client *http.Client) *JWKSValidator {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSValidator{url: url, client: client, refetchEvery: time.Minute}
}

// ValidateToken parses tokenString, checks its RSA signature against the published key named
// by its kid header and checks exp and nbf.
func (v *JWKSValidator) ValidateToken(tokenString string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, v.keyFor, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}))
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	return token, nil
}

func (v *JWKSValidator) keyFor(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token header has no kid")
	}
	return v.GetKey(kid)
}

// GetKey looks kid up in the cached set. An unknown kid triggers at most one refetch per
// refresh interval, so rotated keys are picked up without letting bad tokens hammer the
// endpoint.
func (v *JWKSValidator) GetKey(kid string) (*rsa.PublicKey, error) {
	if key := v.lookup(kid); key != nil {
		return key, nil
	}

	set, err := v.refetch(context.Background())
	if err != nil {
		return nil, err
	}
	if key := set.byKid[kid]; key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownKey, kid)
}

func (v *JWKSValidator) lookup(kid string) *rsa.PublicKey {
	if set := v.current.Load(); set != nil {
		return set.byKid[kid]
	}
	return nil
}

func (v *JWKSValidator) refetch(ctx context.Context) (*keySet, error) {
	v.fetchMu.Lock()
	defer v.fetchMu.Unlock()

	// another caller may have fetched while we waited
	if set := v.current.Load(); set != nil && time.Since(set.fetchedAt) < v.refetchEvery {
		return set, nil
	}

	doc, err := v.download(ctx)
	if err != nil {
		return nil, err
	}
	set := &keySet{byKid: make(map[string]*rsa.PublicKey, len(doc.Keys)), fetchedAt: time.Now()}
	for _, jwk := range doc.Keys {
		if jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		if key, err := jwk.rsaKey(); err == nil {
			set.byKid[jwk.Kid] = key
		}
	}
	v.current.Store(set)
	return set, nil
}

func (v *JWKSValidator) download(ctx context.Context) (*JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build JWKS request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint answered with status %d", resp.StatusCode)
	}
	var doc JWKS
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBody)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}
	return &doc, nil
}

func (k JWK) rsaKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("bad modulus for kid %q: %w", k.Kid, err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("bad exponent for kid %q: %w", k.Kid, err)
	}
	exp := new(big.Int).SetBytes(e)
	if len(n) == 0 || !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("unusable RSA key for kid %q", k.Kid)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
