// Package turnrest mints short-lived TURN credentials in the format coturn
// accepts with use-auth-secret (draft-uberti-behave-turn-rest):
//
//	username   = <expiry_unix>:<prefix>:<subject>
//	credential = base64(hmac_sha1(secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

var (
	ErrMissingSecret  = errors.New("turnrest: shared secret is required")
	ErrInvalidTTL     = errors.New("turnrest: ttl must be positive")
	ErrInvalidPrefix  = errors.New("turnrest: username prefix must be non-empty and must not contain ':'")
	ErrInvalidSubject = errors.New("turnrest: subject must be non-empty and must not contain ':'")
)

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string

	Now        func() time.Time
	NewSubject func() string
}

type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

type Generator struct {
	secret     []byte
	ttl        time.Duration
	prefix     string
	now        func() time.Time
	newSubject func() string
}

func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.TTL < time.Second {
		return nil, ErrInvalidTTL
	}
	if cfg.UsernamePrefix == "" || strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, ErrInvalidPrefix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewSubject == nil {
		cfg.NewSubject = func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }
	}
	return &Generator{
		secret:     []byte(cfg.SharedSecret),
		ttl:        cfg.TTL,
		prefix:     cfg.UsernamePrefix,
		now:        cfg.Now,
		newSubject: cfg.NewSubject,
	}, nil
}

// For mints credentials bound to subject.
func (g *Generator) For(subject string) (Credentials, error) {
	if subject == "" || strings.Contains(subject, ":") {
		return Credentials{}, ErrInvalidSubject
	}
	expires := g.now().UTC().Truncate(time.Second).Add(g.ttl.Truncate(time.Second))
	username := strconv.FormatInt(expires.Unix(), 10) + ":" + g.prefix + ":" + subject
	return Credentials{
		Username:   username,
		Credential: sign(g.secret, username),
		Expires:    expires,
	}, nil
}

// Issue mints credentials for a fresh random subject.
func (g *Generator) Issue() (Credentials, error) {
	return g.For(g.newSubject())
}

// Apply returns a copy of servers with c set on every entry that has a
// turn: or turns: URL. STUN-only entries are left untouched.
func (c Credentials) Apply(servers []webrtc.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, s := range servers {
		out[i] = s
		if hasTURNURL(s) {
			out[i].Username = c.Username
			out[i].Credential = c.Credential
			out[i].CredentialType = webrtc.ICECredentialTypePassword
		}
	}
	return out
}

func hasTURNURL(s webrtc.ICEServer) bool {
	for _, raw := range s.URLs {
		u := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}

func sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
