// Package token はHS256署名のJWTアクセストークンの発行と検証を提供する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/minimalapi/internal/model"
)

// MinSecretLength は署名鍵の最小バイト長。
const MinSecretLength = 32

// DefaultTTL はトークン有効期間のデフォルト値。
const DefaultTTL = time.Hour

var (
	// ErrSecretMissing は署名鍵が設定されていないことを表す。
	ErrSecretMissing = errors.New("token secret is not configured")
	// ErrSecretTooShort は署名鍵がMinSecretLengthより短いことを表す。
	ErrSecretTooShort = fmt.Errorf("token secret must be at least %d bytes", MinSecretLength)
)

// Claims はトークンに含めるクレーム。
// subとnameにはユーザーID、jtiには発行ごとに一意なIDを格納する。
type Claims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// UserID はトークンの主体となるユーザーIDを返す。
func (c *Claims) UserID() string {
	return c.Subject
}

// Config はIssuerの設定。
type Config struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time // テスト用。nilの場合はtime.Now
}

// Issuer はトークンの発行と検証を行う。
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer はIssuerを生成する。署名鍵が空または短すぎる場合はエラーを返す。
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrSecretMissing
	}
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &Issuer{secret: secret, ttl: ttl, now: now}, nil
}

// TTL はトークンの有効期間を返す。
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue はユーザーのトークンを発行する。
func (i *Issuer) Issue(user *model.User) (string, error) {
	token, _, err := i.IssueWithExpiry(user)
	return token, err
}

// IssueWithExpiry はトークンを発行し、有効期限も合わせて返す。
func (i *Issuer) IssueWithExpiry(user *model.User) (string, time.Time, error) {
	if user == nil || user.ID == "" {
		return "", time.Time{}, errors.New("user ID is required to issue a token")
	}

	issuedAt := i.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(i.ttl)

	claims := Claims{
		Name:  user.ID,
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse は署名と有効期限を検証してクレームを返す。
// HS256以外のアルゴリズムは拒否する。期限の猶予は設けない。
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("invalid token: subject is missing")
	}
	return claims, nil
}
