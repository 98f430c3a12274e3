// Package meta holds what WhatsApp, Messenger and Instagram share: the Graph
// API client and the "entry[].messaging[]" webhook shape.
package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nextlevelbuilder/unibox/internal/delivery"
)

const (
	DefaultBaseURL = "https://graph.facebook.com"
	DefaultVersion = "v19.0"
)

// GraphClient posts to the Meta Graph API. Non-2xx answers become
// *delivery.HTTPError so the delivery executor can classify them.
type GraphClient struct {
	http    *resty.Client
	version string
}

// NewGraphClient creates a client for baseURL and API version. httpClient may
// be nil.
func NewGraphClient(baseURL, version string, httpClient *http.Client) *GraphClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if version == "" {
		version = DefaultVersion
	}
	var rc *resty.Client
	if httpClient != nil {
		rc = resty.NewWithClient(httpClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second)
	return &GraphClient{http: rc, version: version}
}

// Request describes one Graph API POST.
type Request struct {
	Path        string // relative to the version, e.g. "me/messages"
	BearerToken string
	AccessToken string // sent as ?access_token=
	Body        any
}

// Post sends req and decodes a successful response into out (may be nil).
func (c *GraphClient) Post(ctx context.Context, req Request, out any) error {
	r := c.http.R().
		SetContext(ctx).
		SetBody(req.Body)
	if req.BearerToken != "" {
		r.SetAuthToken(req.BearerToken)
	}
	if req.AccessToken != "" {
		r.SetQueryParam("access_token", req.AccessToken)
	}

	resp, err := r.Post("/" + c.version + "/" + strings.TrimLeft(req.Path, "/"))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &delivery.HTTPError{Status: resp.StatusCode(), Body: resp.String()}
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	// Decoded by hand: Graph responses are not always labelled application/json.
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode graph response: %w", err)
	}
	return nil
}
