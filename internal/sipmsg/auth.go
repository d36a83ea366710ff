package sipmsg

import (
	"fmt"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
)

// Challenge holds the parsed parameters of a WWW-Authenticate or
// Proxy-Authenticate header (RFC 2617).
type Challenge struct {
	Realm     string
	Nonce     string
	QOP       string
	Algorithm string
	Opaque    string
}

// ParseChallenge locates the authentication-challenge header on a response
// (WWW-Authenticate for 401, Proxy-Authenticate for 407) and parses it.
// Returns the raw digest.Challenge so the caller can feed it straight into
// BuildAuthorization, plus a flattened view for logging.
func ParseChallenge(res *sip.Response) (*digest.Challenge, Challenge, error) {
	headerName := "WWW-Authenticate"
	if res.StatusCode == 407 {
		headerName = "Proxy-Authenticate"
	}
	h := res.GetHeader(headerName)
	if h == nil {
		return nil, Challenge{}, fmt.Errorf("sipmsg: response has no %s header", headerName)
	}
	chal, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return nil, Challenge{}, fmt.Errorf("sipmsg: parsing %s: %w", headerName, err)
	}
	return chal, Challenge{
		Realm:     chal.Realm,
		Nonce:     chal.Nonce,
		QOP:       chal.QOP,
		Algorithm: chal.Algorithm,
		Opaque:    chal.Opaque,
	}, nil
}

// AuthorizationHeaderName returns the request header a digest credential
// for the given challenge response status should be attached under.
func AuthorizationHeaderName(challengeStatus int) string {
	if challengeStatus == 407 {
		return "Proxy-Authorization"
	}
	return "Authorization"
}

// BuildAuthorization computes the digest response for method/uri/credentials
// against chal and renders it as an Authorization header value, per RFC 2617:
// HA1 = MD5(username:realm:password), HA2 = MD5(method:uri), and, when the
// challenge offers qop=auth, response = MD5(HA1:nonce:nc:cnonce:qop:HA2).
func BuildAuthorization(chal *digest.Challenge, method, uri, username, password string) (string, error) {
	cred, err := digest.Digest(chal, digest.Options{
		Method:   method,
		URI:      uri,
		Username: username,
		Password: password,
	})
	if err != nil {
		return "", fmt.Errorf("sipmsg: computing digest: %w", err)
	}
	return cred.String(), nil
}
