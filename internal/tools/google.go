package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

const maxErrorBody = 1024

// googleAPI performs authenticated GET requests against a Google REST API.
type googleAPI struct {
	baseURL    string
	httpClient *http.Client
}

func newGoogleAPI(baseURL string, httpClient *http.Client) *googleAPI {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &googleAPI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (g *googleAPI) client(cred *domain.Credential) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken, TokenType: "Bearer"}),
			Base:   g.httpClient.Transport,
		},
		Timeout: g.httpClient.Timeout,
	}
}

func (g *googleAPI) getJSON(ctx context.Context, cred *domain.Credential, path string, query url.Values, out any) error {
	endpoint := g.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client(cred).Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &domain.UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return classifyTransportError(ctx, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	return err
}

func requireCredential(cred *domain.Credential) error {
	if cred == nil || cred.AccessToken == "" {
		return domain.ErrCredentialMissing
	}
	return nil
}
