package config

import (
	"context"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GetGCSClient prefers ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
// Set GCS_CREDENTIALS_JSON to provide explicit credentials locally.
func GetGCSClient(ctx context.Context, env *Env) (*storage.Client, error) {
	if env != nil && strings.TrimSpace(env.GCSCredentialsJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(env.GCSCredentialsJSON)))
	}
	return storage.NewClient(ctx)
}
