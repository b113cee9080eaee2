package usecase

import (
	"log"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/asofdb/asof/internal/core/domain"
)

const bearerPrefix = "Bearer "

// ExtractSubscriber pulls the sub claim out of an Authorization header of the
// form "Bearer <token>". The token's signature is not verified here: the
// gateway in front of the cluster is the trust boundary, and every service
// behind it treats the decoded claims as authentic. Absent or malformed
// headers yield "".
func ExtractSubscriber(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		log.Printf("authorization header without bearer token")
		return ""
	}

	raw := strings.TrimSpace(authHeader[len(bearerPrefix):])
	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		log.Printf("decode bearer token: %v", err)
		return ""
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return ""
	}
	return sub
}

// CallerFromHeader resolves the request's Authorization header into a Caller.
// No header means an internal trusted hop; a bearer token with a sub claim
// means an external subscriber. A token that decodes without a sub degrades
// to internal, preserving the gateway's write-public/read-bypass contract.
func CallerFromHeader(authHeader string) domain.Caller {
	if sub := ExtractSubscriber(authHeader); sub != "" {
		return domain.Subscriber(sub, authHeader)
	}
	return domain.Internal()
}
