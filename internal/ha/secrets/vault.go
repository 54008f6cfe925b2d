package secrets

import (
	"context"
	"fmt"

	vault "github.com/hashicorp/vault/api"
)

// VaultSource reads a secret from a Vault KV v2 mount.
type VaultSource struct {
	client *vault.Client
	mount  string
}

// NewVaultSource wraps an already-configured Vault client (token/auth
// handled by the caller, per this codebase's convention of taking a
// pre-built client rather than owning credential setup).
func NewVaultSource(client *vault.Client, mount string) *VaultSource {
	return &VaultSource{client: client, mount: mount}
}

// GetSecret reads name's "value" field from the KV v2 mount.
func (s *VaultSource) GetSecret(ctx context.Context, name string) ([]byte, error) {
	secret, err := s.client.KVv2(s.mount).Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("read vault secret %s: %w", name, err)
	}
	raw, ok := secret.Data["value"]
	if !ok {
		return nil, fmt.Errorf("vault secret %s has no \"value\" field", name)
	}
	str, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("vault secret %s \"value\" field is not a string", name)
	}
	return []byte(str), nil
}
