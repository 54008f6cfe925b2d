// Package secrets sources the control-stream credential (the shared
// signing key or pre-shared key internal/ha/authn verifies against) from
// whichever backend the deployment configures: Vault, AWS Secrets
// Manager, or GCP Secret Manager. All three are required in go.mod and
// compiled into cmd/haagent, which picks one at startup: each is a
// plausible home for the same secret depending on where the cluster runs.
package secrets

import "context"

// Source fetches the current value of a named secret.
type Source interface {
	GetSecret(ctx context.Context, name string) ([]byte, error)
}
