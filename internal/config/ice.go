package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "AERO_ICE_SERVERS_JSON"

	envStunURLs       = "AERO_STUN_URLS"
	envTurnURLs       = "AERO_TURN_URLS"
	envTurnUsername   = "AERO_TURN_USERNAME"
	envTurnCredential = "AERO_TURN_CREDENTIAL"
)

var (
	errNoURLs            = errors.New("missing urls")
	errTURNNeedsUser     = errors.New("turn urls require username")
	errTURNNeedsSecret   = errors.New("turn urls require credential")
	errUnsupportedICEURL = errors.New("unsupported url scheme")
)

// parseICEServersFromValues prefers the JSON form and falls back to the
// convenience URL lists. With TURN REST enabled, TURN entries may omit static
// credentials since they are minted per request.
func parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string, turnRESTEnabled bool) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		servers, err := ParseICEServersJSON(raw, turnRESTEnabled)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}
	return ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential, turnRESTEnabled)
}

// urlList accepts both "urls": "stun:..." and "urls": ["stun:...", ...], the
// two shapes RTCIceServer allows in browsers.
type urlList []string

func (u *urlList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*u = urlList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("urls must be a string or an array of strings")
	}
	*u = many
	return nil
}

type iceServerJSON struct {
	URLs       urlList `json:"urls"`
	Username   string  `json:"username,omitempty"`
	Credential string  `json:"credential,omitempty"`
}

// ParseICEServersJSON parses an RTCIceServer-shaped JSON array.
func ParseICEServersJSON(raw string, turnRESTEnabled bool) ([]webrtc.ICEServer, error) {
	var entries []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(entries))
	for i, e := range entries {
		server, err := newICEServer(splitCommaSeparated(strings.Join(e.URLs, ",")), e.Username, e.Credential, turnRESTEnabled)
		if err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

// ParseICEServersFromConvenienceEnv builds at most one STUN and one TURN entry
// from comma-separated URL lists.
func ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string, turnRESTEnabled bool) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if urls := splitCommaSeparated(stunURLs); len(urls) > 0 {
		server, err := newICEServer(urls, "", "", turnRESTEnabled)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	if urls := splitCommaSeparated(turnURLs); len(urls) > 0 {
		server, err := newICEServer(urls, turnUsername, turnCredential, turnRESTEnabled)
		if err != nil {
			return nil, fmt.Errorf("%s (with %s/%s): %w", envTurnURLs, envTurnUsername, envTurnCredential, err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

func newICEServer(urls []string, username, credential string, turnRESTEnabled bool) (webrtc.ICEServer, error) {
	if len(urls) == 0 {
		return webrtc.ICEServer{}, errNoURLs
	}

	needsCreds := false
	for _, u := range urls {
		switch scheme, _, _ := strings.Cut(strings.ToLower(u), ":"); scheme {
		case "stun", "stuns":
		case "turn", "turns":
			needsCreds = true
		default:
			return webrtc.ICEServer{}, fmt.Errorf("%w: %q", errUnsupportedICEURL, u)
		}
	}

	server := webrtc.ICEServer{URLs: urls, Username: strings.TrimSpace(username)}
	if c := strings.TrimSpace(credential); c != "" {
		server.Credential = c
	}

	if needsCreds && !turnRESTEnabled {
		if server.Username == "" {
			return webrtc.ICEServer{}, errTURNNeedsUser
		}
		if server.Credential == nil {
			return webrtc.ICEServer{}, errTURNNeedsSecret
		}
	}
	return server, nil
}

func splitCommaSeparated(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
