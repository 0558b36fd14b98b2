package auth

import (
	googleAuthIDTokenVerifier "github.com/futurenda/google-auth-id-token-verifier"
	"github.com/pkg/errors"
)

// GoogleIdentity is the subset of Google ID token claims used for sign-in.
type GoogleIdentity struct {
	Subject string
	Email   string
	Name    string
}

// GoogleVerifier validates ID tokens against Google's certificates for one client id.
type GoogleVerifier struct {
	clientID string
	v        googleAuthIDTokenVerifier.Verifier
}

func NewGoogleVerifier(clientID string) *GoogleVerifier {
	return &GoogleVerifier{clientID: clientID, v: googleAuthIDTokenVerifier.Verifier{}}
}

func (g *GoogleVerifier) Verify(idToken string) (GoogleIdentity, error) {
	if err := g.v.VerifyIDToken(idToken, []string{g.clientID}); err != nil {
		return GoogleIdentity{}, errors.Wrap(err, "invalid google id token")
	}
	claimSet, err := googleAuthIDTokenVerifier.Decode(idToken)
	if err != nil {
		return GoogleIdentity{}, errors.Wrap(err, "decode google id token")
	}
	return GoogleIdentity{Subject: claimSet.Sub, Email: claimSet.Email, Name: claimSet.Name}, nil
}
