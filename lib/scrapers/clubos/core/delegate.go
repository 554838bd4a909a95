package core

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"gymassist-backend/lib/timezone"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Delegate switches the server-side session context to act as targetUserId.
// Delegating to the already-logged-in user is a no-op with zero round-trips.
//
// A bearer token obtained before delegation does not carry delegated-identity
// scope, so a successful delegation always refreshes the token, even when the
// portal hands back the same value.
func (c *Client) Delegate(ctx context.Context, targetUserId string) error {
	ctx, span := tracer.Start(ctx, "client:Delegate")
	defer span.End()
	span.SetAttributes(attribute.String("target_user_id", targetUserId))

	if c.LoggedInUserId() == targetUserId {
		c.mu.Lock()
		c.delegatedUserId = targetUserId
		c.mu.Unlock()
		span.SetAttributes(attribute.Bool("noop", true))
		return nil
	}

	token, _ := c.BearerToken()
	req := c.Nav.R().
		SetContext(ctx).
		SetHeader("referer", c.BaseUrl.JoinPath("/action/Assignees").String()).
		SetHeader("origin", c.BaseUrl.String()).
		SetQueryParam("_", strconv.FormatInt(timezone.Now().UnixMilli(), 10))
	if token != "" {
		req.SetHeader("authorization", "Bearer "+token)
	}

	res, err := req.Get(fmt.Sprintf("/action/Delegate/%s/url=false", targetUserId))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delegation request failed")
		return fmt.Errorf("%w: delegate to %s: %v", ErrTransport, targetUserId, err)
	}
	if res.StatusCode() != 200 && res.StatusCode() != 302 {
		span.SetStatus(codes.Error, "delegation rejected")
		return fmt.Errorf("%w: status %d", ErrDelegationFailed, res.StatusCode())
	}

	delegated := c.cookie(cookieDelegated)
	if delegated == "" {
		// downstream endpoints key off the server-observed cookie, a locally
		// set value may not actually change server behavior, so this
		// divergence is logged rather than hidden
		slog.WarnContext(
			ctx, "delegation cookie not set by portal, setting locally",
			"target_user_id", targetUserId,
		)
		c.setCookie(cookieDelegated, targetUserId)
		c.setCookie("staffDelegatedUserId", "")
		delegated = targetUserId
	}

	c.mu.Lock()
	c.delegatedUserId = delegated
	c.mu.Unlock()

	return c.refreshBearerToken(ctx)
}

// refreshBearerToken re-requests the portal's token refresh endpoint using the
// current bearer token as authorization. When the portal returns nothing, a
// derived degraded-mode token is installed and ErrTokenRefreshDegraded is
// reported so callers can fall back to cookie-only requests on endpoints that
// reject it.
func (c *Client) refreshBearerToken(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "client:refreshBearerToken")
	defer span.End()

	current, _ := c.BearerToken()
	req := c.Api.R().SetContext(ctx)
	if current != "" {
		req.SetHeader("authorization", "Bearer "+current)
	}

	res, err := req.Get("/action/Login/refresh-api-v3-access-token")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token refresh request failed")
		return fmt.Errorf("%w: token refresh: %v", ErrTransport, err)
	}

	if res.StatusCode() == 200 {
		if refreshed := c.cookie(cookieAccessToken); refreshed != "" {
			c.mu.Lock()
			c.bearerToken = refreshed
			c.bearerDerived = false
			c.mu.Unlock()
			span.SetAttributes(attribute.Bool("token_changed", refreshed != current))
			return nil
		}
	}

	derived, err := c.deriveBearerToken()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to derive fallback token")
		return err
	}
	c.mu.Lock()
	c.bearerToken = derived
	c.bearerDerived = true
	c.mu.Unlock()

	slog.WarnContext(ctx, "portal returned no refreshed token, using derived token")
	span.SetStatus(codes.Ok, ErrTokenRefreshDegraded.Error())
	return ErrTokenRefreshDegraded
}
