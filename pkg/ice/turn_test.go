package ice

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestGenerateCredential(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cred := GenerateCredential("s3cret", 600, now)

	wantUser := fmt.Sprintf("%d:soundcast", now.Unix()+600)
	if cred.Username != wantUser {
		t.Fatalf("username = %q, want %q", cred.Username, wantUser)
	}

	mac := hmac.New(sha1.New, []byte("s3cret"))
	mac.Write([]byte(wantUser))
	if want := base64.StdEncoding.EncodeToString(mac.Sum(nil)); cred.Credential != want {
		t.Fatalf("credential = %q, want %q", cred.Credential, want)
	}
}

func TestGenerateCredentialZeroTTL(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cred := GenerateCredential("s3cret", 0, now)
	prefix, _, ok := strings.Cut(cred.Username, ":")
	if !ok {
		t.Fatalf("malformed username %q", cred.Username)
	}
	if prefix != "1700000000" {
		t.Fatalf("ttl=0 must yield the current unix time as prefix, got %q", prefix)
	}
}

func TestCleanServersStripsSecret(t *testing.T) {
	raw := `[
		{"urls": "stun:stun.example.com:3478"},
		{"urls": "turn:turn.example.com:3478", "__turn_secret__": "s3cret", "__turn_ttl__": 600}
	]`
	now := time.Unix(1700000000, 0)
	out, err := CleanServers(raw, now)
	if err != nil {
		t.Fatalf("clean servers: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d entries, want 2", len(out))
	}

	var stun map[string]interface{}
	if err := json.Unmarshal(out[0], &stun); err != nil {
		t.Fatalf("decode stun entry: %v", err)
	}
	if _, ok := stun["username"]; ok {
		t.Fatal("plain entry must pass through unchanged")
	}

	var turn map[string]interface{}
	if err := json.Unmarshal(out[1], &turn); err != nil {
		t.Fatalf("decode turn entry: %v", err)
	}
	if _, ok := turn["__turn_secret__"]; ok {
		t.Fatal("secret field must never reach a client")
	}
	if _, ok := turn["__turn_ttl__"]; ok {
		t.Fatal("ttl field must never reach a client")
	}
	if turn["username"] != fmt.Sprintf("%d:soundcast", now.Unix()+600) {
		t.Fatalf("username = %v", turn["username"])
	}
	if turn["credential"] == "" {
		t.Fatal("credential must be set")
	}
}

func TestCleanServersDefaultTTL(t *testing.T) {
	raw := `[{"urls": "turn:t", "__turn_secret__": "s"}]`
	now := time.Unix(1700000000, 0)
	out, err := CleanServers(raw, now)
	if err != nil {
		t.Fatalf("clean servers: %v", err)
	}
	var turn map[string]interface{}
	_ = json.Unmarshal(out[0], &turn)
	if turn["username"] != fmt.Sprintf("%d:soundcast", now.Unix()+86400) {
		t.Fatalf("absent ttl must default to 86400s, got %v", turn["username"])
	}
}

func TestCleanServersEmpty(t *testing.T) {
	out, err := CleanServers("", time.Now())
	if err != nil || out != nil {
		t.Fatalf("empty input: out=%v err=%v", out, err)
	}
}
