package credstore

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// authorizedUser is the standard Google "authorized user" JSON shape. The same
// blob is stored in every backend: the flat file, the keyring entry, and the
// environment variable all hold one of these.
type authorizedUser struct {
	Type         string   `json:"type"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AccessToken  string   `json:"token,omitempty"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	TokenURI     string   `json:"token_uri"`
	Scopes       []string `json:"scopes,omitempty"`
	Expiry       string   `json:"expiry,omitempty"`
}

const authorizedUserType = "authorized_user"

// marshalToken serializes an OAuth token to authorized-user JSON.
func marshalToken(tok *oauth2.Token, clientID, clientSecret, tokenURI string, scopes []string) ([]byte, error) {
	if tok == nil {
		return nil, fmt.Errorf("nil token")
	}
	au := authorizedUser{
		Type:         authorizedUserType,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenURI:     tokenURI,
		Scopes:       scopes,
	}
	if !tok.Expiry.IsZero() {
		au.Expiry = tok.Expiry.UTC().Format(time.RFC3339Nano)
	}
	return json.MarshalIndent(&au, "", "  ")
}

// unmarshalToken parses authorized-user JSON back into an OAuth token plus the
// scopes it was granted for.
func unmarshalToken(data []byte) (*oauth2.Token, []string, error) {
	var au authorizedUser
	if err := json.Unmarshal(data, &au); err != nil {
		return nil, nil, fmt.Errorf("parse authorized-user JSON: %w", err)
	}
	if au.Type != "" && au.Type != authorizedUserType {
		return nil, nil, fmt.Errorf("unexpected credential type %q", au.Type)
	}
	if au.AccessToken == "" && au.RefreshToken == "" {
		return nil, nil, fmt.Errorf("credential has neither access nor refresh token")
	}

	tok := &oauth2.Token{
		AccessToken:  au.AccessToken,
		RefreshToken: au.RefreshToken,
		TokenType:    "Bearer",
	}
	if au.Expiry != "" {
		expiry, err := time.Parse(time.RFC3339Nano, au.Expiry)
		if err != nil {
			return nil, nil, fmt.Errorf("parse credential expiry: %w", err)
		}
		tok.Expiry = expiry
	}
	return tok, au.Scopes, nil
}
