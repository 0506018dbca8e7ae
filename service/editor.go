package service

import (
	"context"
	"fmt"
	"net/url"
)

// Editor is the edit session of the metadata record that is currently open.
// It is owned by the catalog, we only add elements and save.
type Editor interface {
	Add(ctx context.Context, req AddRequest) error
	Save(ctx context.Context, metadataID string, fields url.Values) error
}

type AddRequest struct {
	MetadataID string
	Ref        string
	Name       string
	// Position of the new element, before by default
	Position string
}

type httpEditor struct {
	client *Client
}

func NewHTTPEditor(client *Client) Editor {
	return &httpEditor{client: client}
}

func (e *httpEditor) Add(ctx context.Context, req AddRequest) error {
	if req.MetadataID == "" {
		return fmt.Errorf("metadata id is required")
	}
	position := req.Position
	if position == "" {
		position = "before"
	}
	_, err := e.client.Get(ctx, EndpointElementAdd, url.Values{
		"id":       {req.MetadataID},
		"ref":      {req.Ref},
		"name":     {req.Name},
		"position": {position},
	})
	if err != nil {
		return fmt.Errorf("failed to add element %s: %w", req.Name, err)
	}
	return nil
}

func (e *httpEditor) Save(ctx context.Context, metadataID string, fields url.Values) error {
	if metadataID == "" {
		return fmt.Errorf("metadata id is required")
	}
	form := url.Values{}
	for k, vs := range fields {
		form[k] = append([]string(nil), vs...)
	}
	form.Set("id", metadataID)
	if _, err := e.client.PostForm(ctx, EndpointSave, nil, form); err != nil {
		return fmt.Errorf("failed to save metadata %s: %w", metadataID, err)
	}
	return nil
}
