package credential

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// RefreshOAuthToken exchanges cred's refresh token for a new access token
// against its configured token endpoint. It is the default value of
// Manager.refresh; tests substitute a fake to avoid real network calls.
func RefreshOAuthToken(ctx context.Context, cred Credential) (Credential, error) {
	if cred.RefreshToken == "" {
		return cred, fmt.Errorf("credential %q: no refresh token available", cred.Name)
	}
	if cred.TokenURL == "" {
		return cred, fmt.Errorf("credential %q: no token_url configured for refresh", cred.Name)
	}

	cfg := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cred.TokenURL},
	}
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return cred, fmt.Errorf("credential %q: refresh token: %w", cred.Name, err)
	}

	cred.Value = tok.AccessToken
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		cred.ExpiresAt = tok.Expiry
	}
	return cred, nil
}
