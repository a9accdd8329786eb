package testutil

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

var (
	secretKey = []byte("unihub-testutil-secret")
	salt      = []byte("unihub.testutil.tokens")
	nowFunc   = time.Now // mockable

	tokenTTL         = time.Hour
	actionTokenDelta = 3 * 24 * time.Hour

	// errors
	errInvalidToken = errors.New("invalid token")
	errTokenExpired = errors.New("token expired")
)

// Claims carried by the access tokens of the fake backend.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// SignToken issues an access token for acc, expiring after ttl.
func SignToken(userID int64, email, role string, ttl time.Duration) (string, error) {
	now := nowFunc()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "UniHub",
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Email: email,
		Role:  role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(secretKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// ParseToken verifies an access token and returns the user ID it was issued for.
func ParseToken(token string) (int64, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(nowFunc))
	if err != nil {
		return 0, errors.Wrap(err, "parsing token")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parsing subject")
	}
	return id, nil
}

// makeActionToken generates a one-off token (password reset or email
// verification) bound to the account state, so it dies once the state changes.
func makeActionToken(purpose string, acc *account) string {
	return makeActionTokenWithTimestamp(purpose, acc, numDaysSince2001(nowFunc()))
}

func verifyActionToken(purpose string, acc *account, token string) error {
	if token == "" {
		return errInvalidToken
	}

	parts := strings.SplitN(token, "-", 2)
	if len(parts) < 2 {
		return errInvalidToken
	}
	data, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(parts[0])
	if err != nil {
		return errInvalidToken
	}
	ts, err := strconv.Atoi(string(data))
	if err != nil {
		return errInvalidToken
	}

	// check that token has not been tampered with
	want := makeActionTokenWithTimestamp(purpose, acc, ts)
	if subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 0 {
		return errInvalidToken
	}

	// check that the timestamp is within limit
	if (numDaysSince2001(nowFunc()) - ts) > int(actionTokenDelta/(24*time.Hour)) {
		return errTokenExpired
	}
	return nil
}

func makeActionTokenWithTimestamp(purpose string, acc *account, ts int) string {
	tsB32 := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString([]byte(strconv.Itoa(ts)))
	return fmt.Sprintf("%s-%s", tsB32, sign(hashValue(purpose, acc, ts)))
}

func numDaysSince2001(t time.Time) int {
	ref := time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)
	return int(math.Ceil(t.Sub(ref).Hours() / 24))
}

func sign(val []byte) string {
	key := sha256.Sum256(append(salt, secretKey...))
	h := hmac.New(sha256.New, key[:])
	h.Write(val)
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func hashValue(purpose string, acc *account, ts int) []byte {
	var val bytes.Buffer
	val.WriteString(purpose)
	val.WriteString(strconv.FormatInt(acc.usr.ID, 10))
	val.Write(acc.hash)
	val.WriteString(strconv.FormatBool(acc.verified))
	if !acc.lastLogin.IsZero() {
		val.WriteString(acc.lastLogin.String())
	}
	val.WriteString(strconv.Itoa(ts))
	return val.Bytes()
}
