package admin

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

const (
	sessionCookie = "admin_session"
	sessionTTL    = 24 * time.Hour
)

// sessions issues and verifies signed cookie values of the form
// base64(username|expiry).base64(hmac).
type sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func (s sessions) sign(payload string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

func (s sessions) issue(username string) string {
	payload := username + "|" + strconv.FormatInt(s.now().Add(s.ttl).Unix(), 10)
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(payload)) + "." + enc.EncodeToString(s.sign(payload))
}

// verify returns the username of a valid, unexpired session value.
func (s sessions) verify(value string) (string, bool) {
	enc := base64.RawURLEncoding
	p, sig, ok := strings.Cut(value, ".")
	if !ok {
		return "", false
	}
	payload, err := enc.DecodeString(p)
	if err != nil {
		return "", false
	}
	mac, err := enc.DecodeString(sig)
	if err != nil || !hmac.Equal(mac, s.sign(string(payload))) {
		return "", false
	}
	i := strings.LastIndexByte(string(payload), '|')
	if i < 0 {
		return "", false
	}
	username := string(payload[:i])
	expiry, err := strconv.ParseInt(string(payload[i+1:]), 10, 64)
	if err != nil || s.now().Unix() >= expiry {
		return "", false
	}
	return username, true
}

func equalStrings(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
