package domain

import (
	"errors"
	"fmt"
)

var ErrMalformedCredentials = errors.New("malformed credentials")

// DefaultKeyName is used when the credentials do not name a deployment key.
const DefaultKeyName = "appscale"

// Credentials are the deployment-wide settings handed over by the tools.
type Credentials map[string]string

// KeyName returns the deployment key name.
func (c Credentials) KeyName() string {
	if k := c["keyname"]; k != "" {
		return k
	}
	return DefaultKeyName
}

// ParseCredentials turns a flattened key/value list into credentials.
func ParseCredentials(flat []string) (Credentials, error) {
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of entries (%d)", ErrMalformedCredentials, len(flat))
	}
	creds := make(Credentials, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		if flat[i] == "" {
			return nil, fmt.Errorf("%w: empty key at position %d", ErrMalformedCredentials, i)
		}
		creds[flat[i]] = flat[i+1]
	}
	return creds, nil
}
