package auth

import "time"

// Config holds token verification (and optional signing) settings.
type Config struct {
	// Issuer is the required "iss" claim.
	Issuer string

	// PublicKeyHex verifies v4.public tokens. When empty it is derived from SecretKeyHex.
	PublicKeyHex string

	// SecretKeyHex signs tokens. Only needed to mint dev tokens.
	SecretKeyHex string

	// TokenTTL is the lifetime of minted tokens.
	TokenTTL time.Duration

	// ClockSkew tolerates small clock differences on nbf/exp.
	ClockSkew time.Duration
}

// DefaultConfig returns development defaults. Keys must still be supplied.
func DefaultConfig() Config {
	return Config{
		Issuer:    "bazaar",
		TokenTTL:  24 * time.Hour,
		ClockSkew: 30 * time.Second,
	}
}
