// Package ice generates short-lived TURN long-term credentials from a
// per-server shared secret, and strips that secret out of ICE server
// entries before they are handed to a client.
package ice

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

const (
	secretField  = "__turn_secret__"
	ttlField     = "__turn_ttl__"
	defaultTTL   = 86400
	credentialOf = "soundcast"
)

// Credential is the username/credential pair a client uses to authenticate
// against a TURN server for the next ttl seconds.
type Credential struct {
	Username   string
	Credential string
}

// GenerateCredential computes username = "<now+ttl>:soundcast" and
// credential = base64(HMAC-SHA1(secret, username)), the TURN long-term
// credential mechanism. ttl is used verbatim; a ttl of zero yields a
// username whose numeric prefix is the current unix time.
func GenerateCredential(secret string, ttl int, now time.Time) Credential {
	if ttl < 0 {
		ttl = 0
	}
	username := fmt.Sprintf("%d:%s", now.Add(time.Duration(ttl)*time.Second).Unix(), credentialOf)
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))
	return Credential{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	}
}

// CleanServers parses a room's opaque iceServersJson array, replacing any
// entry carrying a __turn_secret__ field with a freshly generated
// long-term credential and stripping the secret (and its optional ttl)
// fields so they never reach the client. Entries without a secret field
// pass through unchanged.
func CleanServers(iceServersJSON string, now time.Time) ([]json.RawMessage, error) {
	var entries []map[string]json.RawMessage
	if iceServersJSON == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(iceServersJSON), &entries); err != nil {
		return nil, fmt.Errorf("ice: parse ice servers json: %w", err)
	}

	out := make([]json.RawMessage, 0, len(entries))
	for _, entry := range entries {
		raw, ok := entry[secretField]
		if !ok {
			cleaned, err := json.Marshal(entry)
			if err != nil {
				return nil, err
			}
			out = append(out, cleaned)
			continue
		}

		var secret string
		if err := json.Unmarshal(raw, &secret); err != nil {
			return nil, fmt.Errorf("ice: %s must be a string: %w", secretField, err)
		}
		ttl := defaultTTL
		if rawTTL, ok := entry[ttlField]; ok {
			_ = json.Unmarshal(rawTTL, &ttl)
		}

		cred := GenerateCredential(secret, ttl, now)
		delete(entry, secretField)
		delete(entry, ttlField)
		entry["username"] = mustMarshal(cred.Username)
		entry["credential"] = mustMarshal(cred.Credential)

		cleaned, err := json.Marshal(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, cleaned)
	}
	return out, nil
}

func mustMarshal(v string) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
