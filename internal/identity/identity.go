// Package identity resolves the authenticated principal from the API Gateway
// request context. The gateway's authorizer verifies the credential before
// the function runs; this package only consumes the result. Identity is never
// read from the request body.
package identity

import (
	"errors"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"paincoach-agent/internal/domain"
)

// ErrUnauthenticated reports that the request carries no verified principal.
var ErrUnauthenticated = errors.New("identity: no authenticated principal")

// FromRequest extracts the principal from the authorizer context: the `sub`
// claim for a JWT/Cognito authorizer, or `principalId` for a custom
// authorizer.
func FromRequest(req events.APIGatewayProxyRequest) (domain.Principal, error) {
	auth := req.RequestContext.Authorizer
	if auth == nil {
		return "", ErrUnauthenticated
	}

	if claims, ok := auth["claims"].(map[string]interface{}); ok {
		if sub, ok := claims["sub"].(string); ok && strings.TrimSpace(sub) != "" {
			return domain.Principal(sub), nil
		}
	}

	if id, ok := auth["principalId"].(string); ok && strings.TrimSpace(id) != "" {
		return domain.Principal(id), nil
	}

	return "", ErrUnauthenticated
}
