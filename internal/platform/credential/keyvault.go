package credential

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// KeyVaultStore reads secrets from Azure Key Vault using the ambient
// managed identity.
type KeyVaultStore struct {
	client *azsecrets.Client
}

// NewKeyVaultStore creates a store for the vault at vaultURL.
func NewKeyVaultStore(vaultURL string) (*KeyVaultStore, error) {
	cred, err := azidentity.NewManagedIdentityCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("managed identity credential: %w", err)
	}
	client, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("key vault client: %w", err)
	}
	return &KeyVaultStore{client: client}, nil
}

// GetSecret returns the latest version of the named secret.
func (s *KeyVaultStore) GetSecret(ctx context.Context, name string) (string, error) {
	resp, err := s.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		return "", fmt.Errorf("key vault get %s: %w", name, err)
	}
	if resp.Value == nil {
		return "", fmt.Errorf("key vault secret %s has no value", name)
	}
	return *resp.Value, nil
}
