package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
)

// WebAppUser is the caller identity embedded in signed mini-app init data.
type WebAppUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
}

// ValidateInitData verifies the HMAC chain over a mini-app init-data query
// string and returns the embedded user, or nil when the signature does not
// match. The signing key is HMAC-SHA256("WebAppData", botToken), and the
// data-check string is the remaining parameters sorted by key and joined
// with newlines.
func ValidateInitData(initData, botToken string) *WebAppUser {
	params, err := url.ParseQuery(initData)
	if err != nil {
		return nil
	}
	receivedHash := params.Get("hash")
	if receivedHash == "" {
		return nil
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		if key == "hash" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params.Get(key))
	}
	dataCheckString := strings.Join(pairs, "\n")

	secretMac := hmac.New(sha256.New, []byte("WebAppData"))
	secretMac.Write([]byte(botToken))
	secretKey := secretMac.Sum(nil)

	mac := hmac.New(sha256.New, secretKey)
	mac.Write([]byte(dataCheckString))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(receivedHash)) {
		return nil
	}

	var user WebAppUser
	if err := json.Unmarshal([]byte(params.Get("user")), &user); err != nil {
		return nil
	}
	if user.ID == 0 {
		return nil
	}
	return &user
}
