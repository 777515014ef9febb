package middleware

import "context"

type contextKey string

const WebsiteIDKey contextKey = "website_id"

// WithWebsiteID stores the resolved website ID in context. Handlers call
// this after resolving the public key so access logs and Sentry tags can
// pick it up.
func WithWebsiteID(ctx context.Context, websiteID string) context.Context {
	return context.WithValue(ctx, WebsiteIDKey, websiteID)
}

// GetWebsiteID returns the website ID from context.
func GetWebsiteID(ctx context.Context) string {
	websiteID, _ := ctx.Value(WebsiteIDKey).(string)
	return websiteID
}
