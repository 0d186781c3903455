package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

const claimUserID = "uid"

var (
	errTokenExpired     = errors.New("token expired")
	errTokenNotYetValid = errors.New("token not yet valid")
)

// PasetoVerifier authenticates PASETO v4.public access tokens.
type PasetoVerifier struct {
	issuer    string
	clockSkew time.Duration
	public    paseto.V4AsymmetricPublicKey
	now       func() time.Time
}

// NewPasetoVerifier builds a verifier from cfg.PublicKeyHex, or from the public half of
// cfg.SecretKeyHex when no public key is configured.
func NewPasetoVerifier(cfg Config) (*PasetoVerifier, error) {
	var public paseto.V4AsymmetricPublicKey
	switch {
	case strings.TrimSpace(cfg.PublicKeyHex) != "":
		k, err := paseto.NewV4AsymmetricPublicKeyFromHex(strings.TrimSpace(cfg.PublicKeyHex))
		if err != nil {
			return nil, ErrConfig
		}
		public = k
	case strings.TrimSpace(cfg.SecretKeyHex) != "":
		k, err := paseto.NewV4AsymmetricSecretKeyFromHex(strings.TrimSpace(cfg.SecretKeyHex))
		if err != nil {
			return nil, ErrConfig
		}
		public = k.Public()
	default:
		return nil, ErrConfig
	}
	if strings.TrimSpace(cfg.Issuer) == "" || cfg.ClockSkew < 0 {
		return nil, ErrConfig
	}
	return &PasetoVerifier{
		issuer:    cfg.Issuer,
		clockSkew: cfg.ClockSkew,
		public:    public,
		now:       time.Now,
	}, nil
}

// PublicKeyHex returns the verification key.
func (v *PasetoVerifier) PublicKeyHex() string { return v.public.ExportHex() }

// Authenticate verifies signature, issuer and validity window, then extracts the numeric uid claim.
func (v *PasetoVerifier) Authenticate(_ context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrMissingToken
	}

	// Fresh parser per call so rules never accumulate.
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(v.issuer))
	p.AddRule(v.validNow())

	parsed, err := p.ParseV4Public(v.public, token, nil)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}

	raw, err := parsed.GetString(claimUserID)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	uid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || uid <= 0 {
		return Principal{}, ErrInvalidToken
	}

	iat, _ := parsed.GetIssuedAt()
	exp, _ := parsed.GetExpiration()
	return Principal{UserID: uid, IssuedAt: iat, ExpiresAt: exp}, nil
}

// validNow checks iat, nbf and exp against the verifier clock, allowing clockSkew on either side
// of the window.
func (v *PasetoVerifier) validNow() paseto.Rule {
	return func(tok paseto.Token) error {
		now := v.now()
		exp, err := tok.GetExpiration()
		if err != nil {
			return err
		}
		if !exp.After(now.Add(-v.clockSkew)) {
			return errTokenExpired
		}
		nbf, err := tok.GetNotBefore()
		if err != nil {
			return err
		}
		iat, err := tok.GetIssuedAt()
		if err != nil {
			return err
		}
		if late := now.Add(v.clockSkew); nbf.After(late) || iat.After(late) {
			return errTokenNotYetValid
		}
		return nil
	}
}

// PasetoIssuer signs v4.public access tokens for a user id.
type PasetoIssuer struct {
	issuer string
	ttl    time.Duration
	secret paseto.V4AsymmetricSecretKey
}

// NewPasetoIssuer requires cfg.SecretKeyHex.
func NewPasetoIssuer(cfg Config) (*PasetoIssuer, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(strings.TrimSpace(cfg.SecretKeyHex))
	if err != nil {
		return nil, ErrConfig
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultConfig().TokenTTL
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, ErrConfig
	}
	return &PasetoIssuer{issuer: cfg.Issuer, ttl: ttl, secret: secret}, nil
}

// Issue returns a signed token for userID valid from now until now+TTL.
func (i *PasetoIssuer) Issue(userID int64, now time.Time) (string, time.Time, error) {
	if userID <= 0 {
		return "", time.Time{}, ErrConfig
	}
	exp := now.Add(i.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(i.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	_ = tok.Set(claimUserID, strconv.FormatInt(userID, 10))

	return tok.V4Sign(i.secret, nil), exp, nil
}

// GenerateKeyHex returns a fresh v4.public keypair as hex (secret, public).
func GenerateKeyHex() (secretHex, publicHex string) {
	k := paseto.NewV4AsymmetricSecretKey()
	return k.ExportHex(), k.Public().ExportHex()
}
