package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// Secret prefixes issued by the gateway.
const (
	// apiKeyPrefix marks client-facing API keys.
	apiKeyPrefix = "ap-"
	// loginTokenPrefix marks user self-service login tokens.
	loginTokenPrefix = "apollo-"
)

// GenerateAPIKey creates a new random client API key string.
func GenerateAPIKey() (string, error) {
	suffix, err := randomHex(8)
	if err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return apiKeyPrefix + suffix, nil
}

// GenerateLoginToken creates a new random user login token.
func GenerateLoginToken() (string, error) {
	suffix, err := randomHex(8)
	if err != nil {
		return "", fmt.Errorf("generate login token: %w", err)
	}
	return loginTokenPrefix + suffix, nil
}

// GenerateID creates a short opaque record identifier.
func GenerateID() (string, error) {
	id, err := randomHex(8)
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id, nil
}

// randomHex returns n random bytes hex-encoded.
func randomHex(n int) (string, error) {
	secret := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return "", err
	}
	return hex.EncodeToString(secret), nil
}
