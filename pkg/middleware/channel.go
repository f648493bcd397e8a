package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
)

const APIKeyHeader = "X-Api-Key"

type channelKey struct{}

var ChannelContextKey = channelKey{}

// deriveChannelFromAPIKey maps an API key prefix to the client channel it
// was issued for.
func deriveChannelFromAPIKey(key string) string {
	switch {
	case strings.HasPrefix(key, "app_"):
		return "app"
	case strings.HasPrefix(key, "web_"):
		return "web"
	case strings.HasPrefix(key, "partner_"):
		return "partner"
	case strings.HasPrefix(key, "ops_"):
		return "ops"
	default:
		return "api"
	}
}

// Channel stores the caller channel derived from X-Api-Key in the request
// context.
func Channel() gin.HandlerFunc {
	return func(c *gin.Context) {
		channel := "api"
		if key := c.GetHeader(APIKeyHeader); key != "" {
			channel = deriveChannelFromAPIKey(key)
		}

		ctx := context.WithValue(c.Request.Context(), ChannelContextKey, channel)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// GetChannel returns the channel of the current request ("api" if unset).
func GetChannel(ctx context.Context) string {
	ch, ok := ctx.Value(ChannelContextKey).(string)
	if !ok {
		return "api"
	}
	return ch
}
