package checkin

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/leafcheck/leafcheckd/internal/store"
)

// ErrInvalidCredentials is returned when the pasted session material can be
// parsed neither as JSON nor as a cookie header string.
var ErrInvalidCredentials = errors.New("checkin: invalid credential format")

var cookieSep = regexp.MustCompile(`;\s*`)

// ParseCredentials accepts the session material formats the control plane
// lets operators paste: a JSON object (either {"cookies": {...}} or a bare
// cookie map) or a raw "name=value; name2=value2" cookie header string.
func ParseCredentials(input string) (store.Credentials, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return store.Credentials{}, ErrInvalidCredentials
	}

	if strings.HasPrefix(input, "{") {
		var full store.Credentials
		if err := json.Unmarshal([]byte(input), &full); err == nil && len(full.Cookies) > 0 {
			return full, nil
		}
		var bare map[string]string
		if err := json.Unmarshal([]byte(input), &bare); err == nil && len(bare) > 0 {
			return store.Credentials{Cookies: bare}, nil
		}
		return store.Credentials{}, ErrInvalidCredentials
	}

	cookies := make(map[string]string)
	for _, pair := range cookieSep.Split(input, -1) {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name != "" {
			cookies[name] = strings.TrimSpace(value)
		}
	}
	if len(cookies) == 0 {
		return store.Credentials{}, ErrInvalidCredentials
	}
	return store.Credentials{Cookies: cookies}, nil
}
