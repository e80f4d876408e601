package remote

import (
	"context"
	"sync"
	"time"
)

// TokenProvider supplies bearer tokens for the sync API
type TokenProvider interface {
	// Token returns a currently valid access token
	Token(ctx context.Context) (string, error)

	// Invalidate drops any cached token so the next Token call mints or
	// fetches a fresh one
	Invalidate()
}

// StaticToken is a fixed bearer token (e.g. FIELDSYNC_TOKEN)
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

func (StaticToken) Invalidate() {}

// TokenSigner mints tokens, e.g. *auth.Signer
type TokenSigner interface {
	Sign(subject string) (string, time.Time, error)
}

// SignedTokenProvider caches tokens minted by a TokenSigner and renews them
// shortly before they expire
type SignedTokenProvider struct {
	signer  TokenSigner
	subject string
	skew    time.Duration
	now     func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewSignedTokenProvider creates a provider minting tokens for subject
func NewSignedTokenProvider(signer TokenSigner, subject string) *SignedTokenProvider {
	return &SignedTokenProvider{
		signer:  signer,
		subject: subject,
		skew:    time.Minute,
		now:     time.Now,
	}
}

func (p *SignedTokenProvider) Token(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Add(p.skew).Before(p.expires) {
		return p.token, nil
	}

	tok, exp, err := p.signer.Sign(p.subject)
	if err != nil {
		return "", err
	}
	p.token, p.expires = tok, exp
	return tok, nil
}

func (p *SignedTokenProvider) Invalidate() {
	p.mu.Lock()
	p.token = ""
	p.expires = time.Time{}
	p.mu.Unlock()
}
