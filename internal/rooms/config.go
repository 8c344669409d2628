package rooms

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/aura-soundcast/core/internal/models"
	"github.com/aura-soundcast/core/pkg/ice"
)

// Config is the payload the room-scoped signaling socket sends in reply to
// a client's {type:"get-config"} frame.
type Config struct {
	SFUURL      string            `json:"sfuUrl"`
	ICEServers  []json.RawMessage `json:"iceServers"`
	IsLocalOnly bool              `json:"isLocalOnly"`
	ChannelName string            `json:"channelName,omitempty"`
	Channels    []string          `json:"channels,omitempty"`
	RoomSlug    string            `json:"roomSlug"`
}

// BuildConfig cleans room's ICE server secrets and rewrites sfuUrl's scheme
// and port when the originating connection is secure.
func BuildConfig(room *models.Room, secure bool, httpsPort string, now time.Time) (*Config, error) {
	servers, err := ice.CleanServers(room.ICEServersJSON, now)
	if err != nil {
		return nil, err
	}
	return &Config{
		SFUURL:      rewriteSFUURL(room.SFUURL, secure, httpsPort),
		ICEServers:  servers,
		IsLocalOnly: room.IsLocalOnly,
		RoomSlug:    room.Slug,
	}, nil
}

// IsSecureRequest reports whether r arrived over TLS or behind a
// TLS-terminating proxy that set X-Forwarded-Proto: https.
func IsSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func rewriteSFUURL(sfuURL string, secure bool, httpsPort string) string {
	if !secure || sfuURL == "" {
		return sfuURL
	}
	rewritten := strings.Replace(sfuURL, "ws://", "wss://", 1)
	if idx := strings.LastIndex(rewritten, ":"); idx > strings.Index(rewritten, "://")+2 {
		host := rewritten[:idx]
		rest := rewritten[idx+1:]
		if slash := strings.Index(rest, "/"); slash >= 0 {
			rewritten = host + ":" + httpsPort + rest[slash:]
		} else {
			rewritten = host + ":" + httpsPort
		}
	}
	return rewritten
}
