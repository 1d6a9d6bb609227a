// Package auth implements the bearer-token auth for the admin API's
// mutating endpoints: JWT issuance/validation, an in-memory revocation
// blacklist, and an optional OTP step-up for the /v1/replay trigger. The
// blacklist lives in memory only and is rebuilt empty on restart, which is
// acceptable for short-lived operator tokens.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/aspenmd/ingestd/logx"
)

// JWTSecret signs and verifies operator bearer tokens. Set once at startup.
var JWTSecret []byte

var tokenBlacklist = struct {
	sync.RWMutex
	items map[string]time.Time
}{items: make(map[string]time.Time)}

// maxBlacklistEntries bounds the in-memory blacklist; beyond this a sweep
// runs eagerly instead of waiting for the next cleaner tick.
const maxBlacklistEntries = 100_000

// OTPIssuer names the TOTP issuer shown in operator authenticator apps.
const OTPIssuer = "ingestd"

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// StartBlacklistCleaner runs a background sweep of expired blacklist
// entries every interval, until ch is closed.
func StartBlacklistCleaner(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				sweepBlacklist()
			}
		}
	}()
}

func sweepBlacklist() {
	now := time.Now()
	tokenBlacklist.Lock()
	defer tokenBlacklist.Unlock()
	for t, e := range tokenBlacklist.items {
		if now.After(e) {
			delete(tokenBlacklist.items, t)
		}
	}
}

// SetJWTSecret sets the HMAC signing secret for admin API tokens.
func SetJWTSecret(secret string) {
	JWTSecret = []byte(secret)
}

// BlacklistToken revokes token until it expires.
func BlacklistToken(token string, exp time.Time) {
	hash := hashToken(token)
	tokenBlacklist.Lock()
	defer tokenBlacklist.Unlock()
	tokenBlacklist.items[hash] = exp

	if len(tokenBlacklist.items) > maxBlacklistEntries {
		now := time.Now()
		for t, e := range tokenBlacklist.items {
			if now.After(e) {
				delete(tokenBlacklist.items, t)
			}
		}
		if len(tokenBlacklist.items) > maxBlacklistEntries {
			logx.Component("auth").Warn().
				Int("size", len(tokenBlacklist.items)).
				Int("limit", maxBlacklistEntries).
				Msg("token blacklist over limit after sweep; consider a shorter JWT TTL")
		}
	}
}

// IsTokenBlacklisted reports whether token has been revoked.
func IsTokenBlacklisted(token string) bool {
	hash := hashToken(token)
	tokenBlacklist.Lock()
	defer tokenBlacklist.Unlock()
	exp, ok := tokenBlacklist.items[hash]
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		delete(tokenBlacklist.items, hash)
		return false
	}
	return true
}

// Claims is the admin API's JWT payload: an opaque operator identifier, no
// end-user account data (there are no end users in this service).
type Claims struct {
	OperatorID string `json:"operator_id"`
	jwt.RegisteredClaims
}

// HashPassword hashes an operator password for storage.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}

// CheckPassword verifies password against its stored hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateOTPSecret issues a new TOTP secret for OTP step-up enrollment.
func GenerateOTPSecret() (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      OTPIssuer,
		AccountName: uuid.New().String(),
	})
	if err != nil {
		return "", err
	}
	return key.Secret(), nil
}

// VerifyOTP validates a 6-digit TOTP code against secret.
func VerifyOTP(secret, code string) bool {
	return totp.Validate(code, secret)
}

// GenerateJWT issues a 24h bearer token for operatorID.
func GenerateJWT(operatorID string) (string, error) {
	claims := Claims{
		OperatorID: operatorID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    OTPIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(JWTSecret)
}

// ValidateJWT parses and verifies tokenString, rejecting blacklisted tokens.
func ValidateJWT(tokenString string) (*Claims, error) {
	if IsTokenBlacklisted(tokenString) {
		return nil, fmt.Errorf("token revoked")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return JWTSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// GetOTPQRCodeURL returns the otpauth:// URL an operator scans to enroll.
func GetOTPQRCodeURL(secret, accountName string) string {
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s", OTPIssuer, accountName, secret, OTPIssuer)
}
