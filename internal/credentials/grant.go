package credentials

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseGrant reads a token endpoint response as a flat map of strings.
// Numbers and booleans are kept in their textual form.
func parseGrant(body string) (map[string]string, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: couldn't decode grant: %v", ErrGrantParse, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: grant is not an object", ErrGrantParse)
	}

	grant := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			grant[key] = v
		case json.Number:
			grant[key] = v.String()
		case bool:
			grant[key] = strconv.FormatBool(v)
		case nil:
		default:
			return nil, fmt.Errorf("%w: field '%s' is not a scalar", ErrGrantParse, key)
		}
	}
	return grant, nil
}

func (c *Credential) applyGrant(
	grant map[string]string,
	now time.Time,
) error {
	rawExpiry, ok := grant["expires_in"]
	if !ok {
		return fmt.Errorf("%w: missing expires_in", ErrGrantParse)
	}
	seconds, err := strconv.Atoi(rawExpiry)
	if err != nil {
		return fmt.Errorf("%w: expires_in '%s' is not an integer", ErrGrantParse, rawExpiry)
	}

	c.ExpiresAt = now.Add(time.Duration(seconds) * time.Second)
	c.AccessToken = grant["access_token"]
	if c.RefreshToken == "" {
		c.RefreshToken = grant["refresh_token"]
	}

	if !c.Usable() {
		return fmt.Errorf("%w: missing tokens", ErrGrantParse)
	}
	return nil
}
