package tools

import (
	"context"

	"github.com/haasonsaas/steward/pkg/models"
)

type platformKey struct{}

// WithPlatform stores the platform the current request arrived on.
// The orchestrator sets it before dispatching tool calls so tools
// that create platform-scoped state (scheduled task notifications,
// audit rows) know where replies should go.
func WithPlatform(ctx context.Context, platform models.Platform) context.Context {
	if platform == "" {
		return ctx
	}
	return context.WithValue(ctx, platformKey{}, platform)
}

// PlatformFromContext retrieves the request platform, defaulting to
// the CLI when none was set.
func PlatformFromContext(ctx context.Context) models.Platform {
	platform, ok := ctx.Value(platformKey{}).(models.Platform)
	if !ok || platform == "" {
		return models.PlatformCLI
	}
	return platform
}
