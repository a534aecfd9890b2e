package logging

import (
	"context"
)

type ctxKey string

const (
	RequestIDKey   = "request_id"
	SiteIDKey      = "site_id"
	ClientIPKey    = "client_ip"
	ServiceNameKey = "service_name"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey(RequestIDKey), requestID)
}

func WithSiteID(ctx context.Context, siteID string) context.Context {
	return context.WithValue(ctx, ctxKey(SiteIDKey), siteID)
}

func WithClientIP(ctx context.Context, clientIP string) context.Context {
	return context.WithValue(ctx, ctxKey(ClientIPKey), clientIP)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ctxKey(ServiceNameKey), serviceName)
}

func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

func GetSiteID(ctx context.Context) string {
	return getString(ctx, SiteIDKey)
}

func GetClientIP(ctx context.Context) string {
	return getString(ctx, ClientIPKey)
}

func GetServiceName(ctx context.Context) string {
	return getString(ctx, ServiceNameKey)
}

func getString(ctx context.Context, key string) string {
	if v, ok := ctx.Value(ctxKey(key)).(string); ok {
		return v
	}
	return ""
}

// GetLogFields returns the request-scoped key/value pairs carried by ctx.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	for _, key := range []string{RequestIDKey, SiteIDKey, ClientIPKey, ServiceNameKey} {
		if v := getString(ctx, key); v != "" {
			fields = append(fields, key, v)
		}
	}

	return fields
}
