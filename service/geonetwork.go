package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// service endpoints relative to the catalog base url
const (
	EndpointList             = "reusable.list.js"
	EndpointCategories       = "reusable.object.categories/"
	EndpointSubtemplate      = "subtemplate"
	EndpointKeywordGet       = "json.keyword.get"
	EndpointKeywordUpdate    = "geocat.thesaurus.updateelement"
	EndpointExtentGet        = "xml.extent.get"
	EndpointExtentAdd        = "extent.add"
	EndpointExtentUpdate     = "extent.edit"
	EndpointInsert           = "md.insert"
	EndpointElementAdd       = "md.element.add"
	EndpointSave             = "md.edit.save"
	EndpointSearch           = "q"
	EndpointCodelist         = "md.element.info@json"
	LocalScheme              = "local://"
	DefaultSchema            = "iso19139.che"
	paramContentType         = "_content_type"
	formContentType          = "application/x-www-form-urlencoded"
	maxErrorBodyInStatusText = 512
)

var ErrMalformedResponse = errors.New("catalog answered with an xml document")

// StatusError is returned for non 2xx answers of the catalog
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s failed with status: %d %s", e.Method, e.URL, e.StatusCode, e.Body)
}

type CatalogSettings struct {
	// BaseURL of the localized services, e.g. http://localhost:8080/geonetwork/srv/eng/
	BaseURL  string
	Username string
	Password string
	Schema   string
}

// Client talks to the catalog services
type Client struct {
	httpClient *http.Client
	settings   CatalogSettings
	baseURL    *url.URL
	logger     *zap.Logger
}

func NewClient(settings CatalogSettings, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.Schema == "" {
		settings.Schema = DefaultSchema
	}
	base := settings.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog url %q: %w", settings.BaseURL, err)
	}
	if !baseURL.IsAbs() {
		return nil, fmt.Errorf("catalog url %q must be absolute", settings.BaseURL)
	}
	return &Client{
		httpClient: httpClient,
		settings:   settings,
		baseURL:    baseURL,
		logger:     logger,
	}, nil
}

func (c *Client) Settings() CatalogSettings {
	return c.settings
}

// StripLocal removes the local scheme of catalog internal references
func StripLocal(s string) string {
	return strings.ReplaceAll(s, LocalScheme, "")
}

// resolve joins path with the base url, query parameters already present in
// path are kept
func (c *Client) resolve(path string, params url.Values) (string, error) {
	u, err := c.baseURL.Parse(StripLocal(path))
	if err != nil {
		return "", fmt.Errorf("invalid service path %q: %w", path, err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) Get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u, err := c.resolve(path, params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) PostForm(ctx context.Context, path string, params url.Values, form url.Values) ([]byte, error) {
	u, err := c.resolve(path, params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", formContentType)
	return c.do(req)
}

// GetJSON decodes a json answer, xml answers yield ErrMalformedResponse
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, v any) error {
	body, err := c.Get(ctx, path, params)
	if err != nil {
		return err
	}
	return decodeJSON(body, v)
}

func decodeJSON(body []byte, v any) error {
	if bytes.HasPrefix(bytes.TrimSpace(body), []byte("<")) {
		return ErrMalformedResponse
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.settings.Username != "" {
		req.SetBasicAuth(c.settings.Username, c.settings.Password)
	}
	c.logger.Debug("catalog request", zap.String("method", req.Method), zap.String("url", req.URL.String()))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(body)
		if len(text) > maxErrorBodyInStatusText {
			text = text[:maxErrorBodyInStatusText]
		}
		return nil, &StatusError{
			Method:     req.Method,
			URL:        req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       text,
		}
	}
	return body, nil
}
