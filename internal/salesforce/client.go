// Package salesforce implements the remote fetch client: OAuth password-grant
// authentication against the token endpoint, raw REST calls, and paginated
// query execution. Token state is explicit per-client, not ambient; callers
// construct one Client per credential and pass it into the sync engine.
//
// Proxies are honored through the default transport's environment handling
// (HTTP_PROXY / HTTPS_PROXY).
package salesforce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mesh-intelligence/sfmirror/pkg/types"
)

// Error taxonomy for a sync attempt. Both are fatal to the attempt; recovery
// is the next scheduler tick.
var (
	// ErrAuthentication wraps token acquisition and authorization failures.
	ErrAuthentication = errors.New("authentication failed")

	// ErrTransport wraps network failures and non-success responses.
	ErrTransport = errors.New("transport error")
)

// Defaults for credentials that leave the endpoint unspecified.
const (
	DefaultTokenURL   = "https://login.salesforce.com/services/oauth2/token"
	DefaultAPIVersion = "v37.0"

	defaultTimeout = 2 * time.Minute
)

// Credential holds the connected-app secrets for one remote org.
type Credential struct {
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	SecurityToken  string `yaml:"security_token"`
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret"`
	TokenURL       string `yaml:"token_url"`
	APIVersion     string `yaml:"api_version"`
}

// Client is an authenticated REST client for one credential. Safe for use
// from a single sync pass; the token cache is guarded so a shared client is
// also safe.
type Client struct {
	cred Credential
	http *http.Client

	mu          sync.Mutex
	accessToken string
	instanceURL string
}

// NewClient builds a client for the credential. httpClient may be nil, in
// which case a client with a two-minute timeout is used; remote calls have no
// protocol-level timeout of their own.
func NewClient(cred Credential, httpClient *http.Client) *Client {
	if cred.TokenURL == "" {
		cred.TokenURL = DefaultTokenURL
	}
	if cred.APIVersion == "" {
		cred.APIVersion = DefaultAPIVersion
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{cred: cred, http: httpClient}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	InstanceURL string `json:"instance_url"`
}

// authenticate acquires a fresh access token and instance URL.
func (c *Client) authenticate(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"password"},
		"client_id":     {c.cred.ConsumerKey},
		"client_secret": {c.cred.ConsumerSecret},
		"username":      {c.cred.Username},
		"password":      {c.cred.Password + c.cred.SecurityToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cred.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: build token request: %v", ErrAuthentication, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: token request: %v", ErrAuthentication, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: token endpoint returned %d: %s",
			ErrAuthentication, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return fmt.Errorf("%w: decode token response: %v", ErrAuthentication, err)
	}
	if tok.AccessToken == "" || tok.InstanceURL == "" {
		return fmt.Errorf("%w: token response missing access_token or instance_url", ErrAuthentication)
	}

	c.mu.Lock()
	c.accessToken = tok.AccessToken
	c.instanceURL = tok.InstanceURL
	c.mu.Unlock()
	return nil
}

// GetData performs an authenticated GET for one API function relative to the
// versioned data root, e.g. "query?q=...". The response body is returned
// raw. A 401 triggers one re-authentication and retry.
func (c *Client) GetData(ctx context.Context, apiFunction string) ([]byte, error) {
	c.mu.Lock()
	instance := c.instanceURL
	c.mu.Unlock()

	if instance == "" {
		if err := c.authenticate(ctx); err != nil {
			return nil, err
		}
		c.mu.Lock()
		instance = c.instanceURL
		c.mu.Unlock()
	}

	return c.get(ctx, instance+"/services/data/"+c.cred.APIVersion+"/"+apiFunction)
}

// get fetches an absolute URL with the cached token, re-authenticating once
// on a 401.
func (c *Client) get(ctx context.Context, fullURL string) ([]byte, error) {
	body, status, err := c.doGet(ctx, fullURL)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		if err := c.authenticate(ctx); err != nil {
			return nil, err
		}
		body, status, err = c.doGet(ctx, fullURL)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: request unauthorized after token refresh", ErrAuthentication)
		}
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: GET %s returned %d: %s",
			ErrTransport, fullURL, status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (c *Client) doGet(ctx context.Context, fullURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	c.mu.Lock()
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: GET %s: %v", ErrTransport, fullURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}
	return body, resp.StatusCode, nil
}

// queryResponse is one page of query results.
type queryResponse struct {
	Records        []types.RawRecord `json:"records"`
	Done           bool              `json:"done"`
	NextRecordsURL string            `json:"nextRecordsUrl"`
}

// Query executes a query string ("query?q=...") and follows continuation
// pages until the remote reports done, concatenating all pages into one
// ordered record set de-duplicated by remote identity. The per-record
// "attributes" envelope the remote adds is dropped.
func (c *Client) Query(ctx context.Context, queryString string) ([]types.RawRecord, error) {
	body, err := c.GetData(ctx, queryString)
	if err != nil {
		return nil, err
	}

	var records []types.RawRecord
	seen := make(map[string]bool)

	for {
		var page queryResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("%w: decode query response: %v", ErrTransport, err)
		}

		for _, raw := range page.Records {
			delete(raw, "attributes")
			if id, _ := raw[types.RemoteIDField].(string); id != "" {
				if seen[id] {
					continue
				}
				seen[id] = true
			}
			records = append(records, raw)
		}

		if page.Done || page.NextRecordsURL == "" {
			return records, nil
		}

		c.mu.Lock()
		instance := c.instanceURL
		c.mu.Unlock()
		body, err = c.get(ctx, instance+page.NextRecordsURL)
		if err != nil {
			return nil, err
		}
	}
}
