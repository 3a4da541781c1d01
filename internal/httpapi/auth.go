package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"readinghabits/internal/storage"
)

// initDataMaxAge bounds how old a Mini App initData may be
const initDataMaxAge = 24 * time.Hour

const maxClientIDLength = 64

var (
	errUnauthorized    = errors.New("unauthorized")
	errInvalidClientID = errors.New("invalid client id")
)

// validateTelegramInitData validates the Telegram Mini App initData and
// returns the user id it was issued to
func validateTelegramInitData(initData, botToken string, allowed map[int64]bool, now time.Time) (int64, error) {
	if initData == "" {
		return 0, fmt.Errorf("missing initData")
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return 0, fmt.Errorf("invalid initData format: %w", err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return 0, fmt.Errorf("missing hash in initData")
	}
	values.Del("hash")

	if !hmac.Equal([]byte(signInitData(values, botToken)), []byte(hash)) {
		return 0, fmt.Errorf("invalid hash")
	}

	authDateStr := values.Get("auth_date")
	if authDateStr == "" {
		return 0, fmt.Errorf("missing auth_date")
	}
	authDate, err := strconv.ParseInt(authDateStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid auth_date: %w", err)
	}
	if now.Sub(time.Unix(authDate, 0)) > initDataMaxAge {
		return 0, fmt.Errorf("initData is too old")
	}

	userStr := values.Get("user")
	if userStr == "" {
		return 0, fmt.Errorf("missing user data")
	}
	var userData struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(userStr), &userData); err != nil {
		return 0, fmt.Errorf("invalid user data: %w", err)
	}

	if !allowed[userData.ID] {
		return 0, fmt.Errorf("user not allowed")
	}
	return userData.ID, nil
}

// signInitData computes the hex HMAC Telegram attaches to initData
func signInitData(values url.Values, botToken string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var dataCheckString strings.Builder
	for i, k := range keys {
		if i > 0 {
			dataCheckString.WriteByte('\n')
		}
		dataCheckString.WriteString(k)
		dataCheckString.WriteByte('=')
		dataCheckString.WriteString(values.Get(k))
	}

	secretKey := hmac.New(sha256.New, []byte("WebAppData"))
	secretKey.Write([]byte(botToken))

	h := hmac.New(sha256.New, secretKey.Sum(nil))
	h.Write([]byte(dataCheckString.String()))
	return hex.EncodeToString(h.Sum(nil))
}

// AnonymousIdentity is the storage identity of an unauthenticated client
func AnonymousIdentity(clientID string) (storage.Identity, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return storage.LocalIdentity(), nil
	}
	if len(clientID) > maxClientIDLength {
		return storage.Identity{}, errInvalidClientID
	}
	for _, r := range clientID {
		valid := r == '-' || r == '_' || r == '.' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !valid {
			return storage.Identity{}, errInvalidClientID
		}
	}
	return storage.Identity{Key: "anon:" + clientID}, nil
}
