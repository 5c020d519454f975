package browser

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Cookie is the engine-neutral session blob entry, so a session saved by one
// engine loads in the other.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

var errNoCookies = errors.New("cookie blob is empty")

func encodeCookies(cookies []Cookie) ([]byte, error) {
	return json.Marshal(cookies)
}

// decodeCookies rejects empty, malformed and nameless entries.
func decodeCookies(blob []byte) ([]Cookie, error) {
	if len(blob) == 0 {
		return nil, errNoCookies
	}
	var cookies []Cookie
	if err := json.Unmarshal(blob, &cookies); err != nil {
		return nil, fmt.Errorf("decode cookies: %w", err)
	}
	if len(cookies) == 0 {
		return nil, errNoCookies
	}
	for i, c := range cookies {
		if c.Name == "" || c.Domain == "" {
			return nil, fmt.Errorf("decode cookies: entry %d missing name or domain", i)
		}
		if c.Path == "" {
			cookies[i].Path = "/"
		}
	}
	return cookies, nil
}
