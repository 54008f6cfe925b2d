package secrets

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// AWSSource reads a secret from AWS Secrets Manager.
type AWSSource struct {
	client *secretsmanager.Client
}

// NewAWSSource wraps an already-configured Secrets Manager client.
func NewAWSSource(client *secretsmanager.Client) *AWSSource {
	return &AWSSource{client: client}
}

// GetSecret fetches name's current secret string.
func (s *AWSSource) GetSecret(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &name})
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", name, err)
	}
	if out.SecretString != nil {
		return []byte(*out.SecretString), nil
	}
	return out.SecretBinary, nil
}
