package core

import (
	"crypto/sha256"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// deriveBearerToken constructs a degraded-mode bearer token when the portal
// returns none: an HS256 JWT whose claims mirror the portal's own token
// payload, signed with a key derived from the session. Some portal endpoints
// accept it and some do not; callers treat a rejection as a cue to fall back
// to cookie-only requests, not as a hard failure.
func (c *Client) deriveBearerToken() (string, error) {
	c.mu.Lock()
	sessionId := c.sessionId
	loggedInUserId := c.loggedInUserId
	delegatedUserId := c.delegatedUserId
	c.mu.Unlock()

	if delegatedUserId == "" {
		delegatedUserId = loggedInUserId
	}

	claims := jwt.MapClaims{
		"delegateUserId": claimId(delegatedUserId),
		"loggedInUserId": claimId(loggedInUserId),
		"sessionId":      sessionId,
	}

	key := sha256.Sum256([]byte(sessionId + ":" + loggedInUserId))
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key[:])
}

// the portal encodes user ids as json numbers when they are numeric
func claimId(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}
