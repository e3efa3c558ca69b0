package client

import (
	"context"
	"net/http"

	"zkvault/internal/domain"
	"zkvault/internal/vaultcrypto"
)

func (c *Client) Status(ctx context.Context) (*domain.MasterSecretStatus, error) {
	var status domain.MasterSecretStatus
	if err := c.do(ctx, http.MethodGet, "/master-secret/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) CreateMasterSecret(ctx context.Context, req *domain.CreateMasterSecretRequest) (*domain.CreateMasterSecretResponse, error) {
	var resp domain.CreateMasterSecretResponse
	if err := c.do(ctx, http.MethodPost, "/master-secret/create", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) VerifyMasterSecret(ctx context.Context, password string) (*domain.VerifyMasterSecretResponse, error) {
	var resp domain.VerifyMasterSecretResponse
	req := &domain.VerifyMasterSecretRequest{Password: password}
	if err := c.do(ctx, http.MethodPost, "/master-secret/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) FetchArtifact(ctx context.Context) (*vaultcrypto.Artifact, error) {
	var resp domain.ArtifactResponse
	if err := c.do(ctx, http.MethodGet, "/master-secret/artifact", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Artifact, nil
}

func (c *Client) UpgradeArtifact(ctx context.Context, req *domain.UpgradeArtifactRequest) (*domain.ArtifactResponse, error) {
	var resp domain.ArtifactResponse
	if err := c.do(ctx, http.MethodPut, "/master-secret/artifact", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CommitRotation sends the whole rotation in one request. It is never
// retried.
func (c *Client) CommitRotation(ctx context.Context, req *domain.RotateMasterSecretRequest) (*domain.RotateMasterSecretResponse, error) {
	var resp domain.RotateMasterSecretResponse
	if err := c.do(ctx, http.MethodPost, "/master-secret/rotate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) DeleteMasterSecret(ctx context.Context, password string) error {
	req := &domain.DeleteMasterSecretRequest{
		Password:     password,
		Confirmation: domain.DeleteConfirmation,
	}
	return c.do(ctx, http.MethodDelete, "/master-secret/delete", req, nil)
}
