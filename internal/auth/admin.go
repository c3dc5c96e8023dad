package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/argon2"
)

var (
	ErrAdminDisabled      = errors.New("admin login is not configured")
	ErrInvalidCredentials = errors.New("invalid admin credentials")
)

const adminIssuer = "dingleup-admin"

type AdminClaims struct {
	jwt.RegisteredClaims
}

// AdminAuth checks the shared admin password and issues short-lived HS256 tokens.
type AdminAuth struct {
	ids          []string
	passwordHash string
	secret       []byte
	ttl          time.Duration
	now          func() time.Time
}

func NewAdminAuth(ids []string, passwordHash, secret string, ttl time.Duration) *AdminAuth {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &AdminAuth{
		ids:          ids,
		passwordHash: passwordHash,
		secret:       []byte(secret),
		ttl:          ttl,
		now:          time.Now,
	}
}

func (a *AdminAuth) Enabled() bool {
	return a != nil && a.passwordHash != "" && len(a.secret) > 0
}

func (a *AdminAuth) Login(adminID, password string) (string, time.Time, error) {
	if !a.Enabled() {
		return "", time.Time{}, ErrAdminDisabled
	}
	adminID = strings.TrimSpace(adminID)
	if adminID == "" || (len(a.ids) > 0 && !slices.Contains(a.ids, adminID)) {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if !VerifyArgon2id(password, a.passwordHash) {
		return "", time.Time{}, ErrInvalidCredentials
	}
	now := a.now()
	exp := now.Add(a.ttl)
	claims := AdminClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    adminIssuer,
		Subject:   adminID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign admin token: %w", err)
	}
	return signed, exp, nil
}

// Verify returns the admin id carried by a token issued by Login.
func (a *AdminAuth) Verify(token string) (string, error) {
	if !a.Enabled() {
		return "", ErrAdminDisabled
	}
	var claims AdminClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(adminIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if claims.Subject == "" {
		return "", ErrInvalidCredentials
	}
	return claims.Subject, nil
}

const (
	argonMemory      uint32 = 64 * 1024
	argonIterations  uint32 = 3
	argonParallelism uint8  = 2
	argonKeyLen      uint32 = 32
)

// HashArgon2id encodes password as $argon2id$v=19$m=..,t=..,p=..$salt$hash.
func HashArgon2id(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, argonIterations, argonMemory, argonParallelism, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonIterations, argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func VerifyArgon2id(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
