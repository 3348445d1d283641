package identity

import (
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"paincoach-agent/internal/domain"
)

func eventWithAuthorizer(auth map[string]interface{}) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		RequestContext: events.APIGatewayProxyRequestContext{Authorizer: auth},
	}
}

func TestFromRequest_JWTClaims(t *testing.T) {
	principal, err := FromRequest(eventWithAuthorizer(map[string]interface{}{
		"claims": map[string]interface{}{"sub": "user-1", "email": "a@b.c"},
	}))
	require.NoError(t, err)
	require.Equal(t, domain.Principal("user-1"), principal)
}

func TestFromRequest_CustomAuthorizerPrincipalID(t *testing.T) {
	principal, err := FromRequest(eventWithAuthorizer(map[string]interface{}{
		"principalId": "user-2",
	}))
	require.NoError(t, err)
	require.Equal(t, domain.Principal("user-2"), principal)
}

func TestFromRequest_Unauthenticated(t *testing.T) {
	cases := []struct {
		name string
		auth map[string]interface{}
	}{
		{name: "no authorizer", auth: nil},
		{name: "empty authorizer", auth: map[string]interface{}{}},
		{name: "blank sub", auth: map[string]interface{}{"claims": map[string]interface{}{"sub": "  "}}},
		{name: "sub wrong type", auth: map[string]interface{}{"claims": map[string]interface{}{"sub": 42}}},
		{name: "blank principalId", auth: map[string]interface{}{"principalId": ""}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromRequest(eventWithAuthorizer(tc.auth))
			require.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}
