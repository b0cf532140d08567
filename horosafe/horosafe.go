// Package horosafe provides the security primitives tamperguard shares
// between the engine, the host adapters and the collector: secret
// validation, endpoint checks and bounded I/O helpers.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// MinSecretLen is the minimum acceptable length for the integrity and
// network secrets. 32 bytes = 256 bits of entropy.
const MinSecretLen = 32

// MaxResponseBody is the default cap for captured response bodies (1 MiB).
const MaxResponseBody int64 = 1 << 20

// ErrSecretTooShort is returned when a secret does not meet MinSecretLen.
var ErrSecretTooShort = fmt.Errorf("horosafe: secret must be at least %d bytes", MinSecretLen)

// ErrUnsafeScheme is returned when an endpoint uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")

// ErrResponseTooLarge is returned by LimitedReadAll when the limit is exceeded.
var ErrResponseTooLarge = errors.New("horosafe: response too large")

// ValidateSecret checks that secret is at least MinSecretLen bytes.
func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return ErrSecretTooShort
	}
	return nil
}

// ValidateEndpoint checks that rawURL is an absolute http(s) URL with a
// host and no user info. Private addresses are allowed: collectors commonly
// run next to the watched application.
func ValidateEndpoint(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	if u.Hostname() == "" {
		return fmt.Errorf("horosafe: URL has no host")
	}
	if u.User != nil {
		return fmt.Errorf("horosafe: URL must not carry credentials")
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r. It returns the bytes read
// so far together with ErrResponseTooLarge when the limit is exceeded.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return data, err
	}
	if int64(len(data)) > maxBytes {
		return data[:maxBytes], fmt.Errorf("%w: exceeds %d bytes", ErrResponseTooLarge, maxBytes)
	}
	return data, nil
}
