package vision

import (
	"context"
	"errors"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

// CognitiveServicesScope is the token audience for the vision service.
const CognitiveServicesScope = "https://cognitiveservices.azure.com/.default"

const apiKeyHeader = "Ocp-Apim-Subscription-Key"

// CredentialProvider produces the header that authorises a call to the
// vision service.
type CredentialProvider interface {
	AuthHeader(ctx context.Context) (name, value string, err error)
}

// APIKeyCredential authenticates with a subscription key.
type APIKeyCredential struct {
	Key string
}

// AuthHeader implements CredentialProvider.
func (c APIKeyCredential) AuthHeader(context.Context) (string, string, error) {
	if c.Key == "" {
		return "", "", errors.New("vision: empty api key")
	}
	return apiKeyHeader, c.Key, nil
}

// TokenCredential authenticates with a bearer token from an ambient identity.
type TokenCredential struct {
	Credential azcore.TokenCredential
	Scopes     []string
}

// AuthHeader implements CredentialProvider.
func (c TokenCredential) AuthHeader(ctx context.Context) (string, string, error) {
	if c.Credential == nil {
		return "", "", errors.New("vision: no token credential")
	}
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = []string{CognitiveServicesScope}
	}
	tok, err := c.Credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: scopes})
	if err != nil {
		return "", "", err
	}
	return "Authorization", "Bearer " + tok.Token, nil
}

// NewCredentialProvider picks the auth strategy once at startup: an explicit
// API key when configured, otherwise the ambient identity.
func NewCredentialProvider(apiKey string, ambient azcore.TokenCredential) (CredentialProvider, error) {
	if apiKey != "" {
		return APIKeyCredential{Key: apiKey}, nil
	}
	if ambient == nil {
		return nil, errors.New("vision: neither api key nor ambient credential available")
	}
	return TokenCredential{Credential: ambient, Scopes: []string{CognitiveServicesScope}}, nil
}

// authPolicy adapts a CredentialProvider to the azcore pipeline.
type authPolicy struct {
	creds CredentialProvider
}

func (p authPolicy) Do(req *policy.Request) (*http.Response, error) {
	name, value, err := p.creds.AuthHeader(req.Raw().Context())
	if err != nil {
		return nil, err
	}
	req.Raw().Header.Set(name, value)
	return req.Next()
}
