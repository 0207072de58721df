package cloudbuild

import (
	"context"
	"fmt"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/durationpb"
)

// tokenSecretTTL outlives the one hour installation token.
const tokenSecretTTL = 2 * time.Hour

// SecretStore parks a repository token where only the build can read it.
type SecretStore interface {
	// StoreToken returns the secret version name the job references.
	StoreToken(ctx context.Context, buildID, token string) (string, error)
}

// SecretManagerStore keeps one short-lived secret per build in Secret
// Manager.
type SecretManagerStore struct {
	client    *secretmanager.Client
	projectID string
}

var _ SecretStore = (*SecretManagerStore)(nil)

// NewSecretManagerStore opens the Secret Manager REST client.
func NewSecretManagerStore(ctx context.Context, projectID string, opts ...option.ClientOption) (*SecretManagerStore, error) {
	c, err := secretmanager.NewRESTClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create secret manager client: %w", err)
	}
	return &SecretManagerStore{client: c, projectID: projectID}, nil
}

// SecretID names the secret holding the token for a build.
func SecretID(buildID string) string {
	return "riverly-github-token-" + buildID
}

func (s *SecretManagerStore) StoreToken(ctx context.Context, buildID, token string) (string, error) {
	secret, err := s.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   "projects/" + s.projectID,
		SecretId: SecretID(buildID),
		Secret: &secretmanagerpb.Secret{
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{Automatic: &secretmanagerpb.Replication_Automatic{}},
			},
			Expiration: &secretmanagerpb.Secret_Ttl{Ttl: durationpb.New(tokenSecretTTL)},
			Labels:     map[string]string{"riverly-build": labelValue(buildID)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create secret: %w", err)
	}

	version, err := s.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  secret.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(token)},
	})
	if err != nil {
		return "", fmt.Errorf("add secret version: %w", err)
	}
	return version.GetName(), nil
}

// Close releases the client connection.
func (s *SecretManagerStore) Close() error {
	return s.client.Close()
}
