package client

import (
	"context"
	"net/http"
	"net/url"

	"zkvault/internal/domain"
)

func (c *Client) ListRecords(ctx context.Context) ([]*domain.VaultRecord, error) {
	var resp domain.RecordListResponse
	if err := c.do(ctx, http.MethodGet, "/vault/records", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *Client) GetRecord(ctx context.Context, id string) (*domain.VaultRecord, error) {
	var record domain.VaultRecord
	if err := c.do(ctx, http.MethodGet, "/vault/records/"+url.PathEscape(id), nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *Client) CreateRecord(ctx context.Context, req *domain.CreateRecordRequest) (*domain.VaultRecord, error) {
	var record domain.VaultRecord
	if err := c.do(ctx, http.MethodPost, "/vault/records", req, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *Client) MarkRecordUsed(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/vault/records/"+url.PathEscape(id)+"/use", nil, nil)
}

func (c *Client) DeleteRecord(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/vault/records/"+url.PathEscape(id), nil, nil)
}
