// Package fcm delivers push notifications through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// ErrNoCredentials is returned when neither inline nor file credentials are configured.
var ErrNoCredentials = errors.New("no firebase credentials found (set FIREBASE_SERVICE_ACCOUNT_JSON or FIREBASE_KEY_PATH)")

// Credentials locates the service account. JSON takes precedence over File.
type Credentials struct {
	JSON string
	File string
}

// Source describes where the credentials come from, for logging.
func (c Credentials) Source() string {
	switch {
	case strings.TrimSpace(c.JSON) != "":
		return "env"
	case strings.TrimSpace(c.File) != "":
		return "file"
	default:
		return "none"
	}
}

type serviceAccount struct {
	ProjectID string `json:"project_id"`
}

// NewApp initialises the Firebase app from creds.
func NewApp(ctx context.Context, creds Credentials) (*firebase.App, error) {
	var (
		opts []option.ClientOption
		conf *firebase.Config
	)

	switch {
	case strings.TrimSpace(creds.JSON) != "":
		var sa serviceAccount
		if err := json.Unmarshal([]byte(creds.JSON), &sa); err != nil {
			return nil, fmt.Errorf("parsing FIREBASE_SERVICE_ACCOUNT_JSON: %w", err)
		}
		if sa.ProjectID != "" {
			conf = &firebase.Config{ProjectID: sa.ProjectID}
		}
		opts = append(opts, option.WithCredentialsJSON([]byte(creds.JSON)))
	case strings.TrimSpace(creds.File) != "":
		path, err := filepath.Abs(creds.File)
		if err != nil {
			return nil, fmt.Errorf("resolving credentials path: %w", err)
		}
		opts = append(opts, option.WithCredentialsFile(path))
	default:
		return nil, ErrNoCredentials
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing firebase app: %w", err)
	}
	return app, nil
}
