package vault

import (
	"fmt"

	"github.com/hashicorp/vault/api"
)

type SecretManager struct {
	client *api.Client
}

func NewSecretManager(address, token string) (*SecretManager, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, err
	}

	client.SetToken(token)

	return &SecretManager{client: client}, nil
}

func (sm *SecretManager) GetDatabaseCredentials() (string, error) {
	return sm.read("secret/data/database", "connection_string")
}

func (sm *SecretManager) GetAnsweringAPIKey() (string, error) {
	return sm.read("secret/data/answering", "api_key")
}

func (sm *SecretManager) GetJWTSecret() (string, error) {
	return sm.read("secret/data/jwt", "secret")
}

func (sm *SecretManager) read(path, field string) (string, error) {
	secret, err := sm.client.Logical().Read(path)
	if err != nil {
		return "", err
	}
	if secret == nil {
		return "", fmt.Errorf("vault: no secret at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("vault: malformed secret at %s", path)
	}
	value, ok := data[field].(string)
	if !ok {
		return "", fmt.Errorf("vault: missing field %s at %s", field, path)
	}
	return value, nil
}
