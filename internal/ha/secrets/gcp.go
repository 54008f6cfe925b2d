package secrets

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// GCPSource reads the latest version of a secret from GCP Secret Manager.
type GCPSource struct {
	client  *secretmanager.Client
	project string
}

// NewGCPSource wraps an already-configured Secret Manager client, scoped to
// project.
func NewGCPSource(client *secretmanager.Client, project string) *GCPSource {
	return &GCPSource{client: client, project: project}
}

// GetSecret fetches the "latest" version of name.
func (s *GCPSource) GetSecret(ctx context.Context, name string) ([]byte, error) {
	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.project, name),
	}
	resp, err := s.client.AccessSecretVersion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("access secret %s: %w", name, err)
	}
	return resp.Payload.Data, nil
}
