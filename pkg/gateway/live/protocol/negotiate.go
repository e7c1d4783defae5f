package protocol

import (
	"encoding/json"
	"strings"
)

// ICEServer is one connectivity server advertised by the upstream service for
// the client's media transport.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ExtractICEServers pulls connectivity parameters out of a session.updated
// payload. Upstream versions have moved the list around, so the lookup runs
// in fixed order: session.avatar.ice_servers, then session.ice_servers, then
// top-level ice_servers. The first location that holds a non-empty list wins.
func ExtractICEServers(data []byte) ([]ICEServer, bool) {
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, false
	}

	candidates := [][]string{
		{"session", "avatar", "ice_servers"},
		{"session", "ice_servers"},
		{"ice_servers"},
	}
	for _, path := range candidates {
		if servers, ok := iceServersAt(root, path); ok {
			return servers, true
		}
	}
	return nil, false
}

func iceServersAt(root map[string]any, path []string) ([]ICEServer, bool) {
	node := any(root)
	for _, key := range path {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node = obj[key]
	}
	list, ok := node.([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}

	servers := make([]ICEServer, 0, len(list))
	for _, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		server := ICEServer{
			URLs:       stringList(obj["urls"]),
			Username:   stringAt(obj, "username"),
			Credential: stringAt(obj, "credential"),
		}
		// Older payloads use a singular "url" key.
		if len(server.URLs) == 0 {
			if u := stringAt(obj, "url"); u != "" {
				server.URLs = []string{u}
			}
		}
		if len(server.URLs) > 0 {
			servers = append(servers, server)
		}
	}
	if len(servers) == 0 {
		return nil, false
	}
	return servers, true
}

func stringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func stringAt(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// ExtractClientOffer returns the session description from a client
// avatar-connect frame. Clients send it as client_sdp; sdp is accepted as a
// fallback for older ones.
func ExtractClientOffer(data []byte) (string, bool) {
	var frame struct {
		ClientSDP string `json:"client_sdp"`
		SDP       string `json:"sdp"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return "", false
	}
	if s := strings.TrimSpace(frame.ClientSDP); s != "" {
		return frame.ClientSDP, true
	}
	if s := strings.TrimSpace(frame.SDP); s != "" {
		return frame.SDP, true
	}
	return "", false
}

// WrapClientOffer builds the canonical avatar-connect frame forwarded
// upstream, whatever shape the client offer arrived in.
func WrapClientOffer(sdp string) ([]byte, error) {
	return json.Marshal(struct {
		Type      string `json:"type"`
		ClientSDP string `json:"client_sdp"`
	}{Type: TypeAvatarConnect, ClientSDP: sdp})
}
