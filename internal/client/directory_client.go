package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/scribeworks/be-doc-approvals/internal/approval"
	"github.com/scribeworks/be-doc-approvals/internal/errors"
)

// DirectoryClient resolves principals against the platform directory
// service over its HTTP JSON API. It implements
// service.DirectoryClientInterface.
type DirectoryClient struct {
	baseURL string
	http    *http.Client
}

// NewDirectoryClient creates a client for the directory service.
func NewDirectoryClient(baseURL string, timeout time.Duration) *DirectoryClient {
	return &DirectoryClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// ExpandPrincipal resolves a principal to concrete user IDs. Individual
// users expand to themselves without a directory round trip; groups are
// expanded to their current membership.
func (c *DirectoryClient) ExpandPrincipal(ctx context.Context, p approval.Principal) ([]string, error) {
	if p.Kind == approval.PrincipalUser {
		return []string{p.ID}, nil
	}

	endpoint := fmt.Sprintf("%s/api/v1/groups/%s/members", c.baseURL, url.PathEscape(p.ID))

	var resp struct {
		UserIDs []string `json:"user_ids"`
	}
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	return resp.UserIDs, nil
}

// GetUserGroups returns the group IDs a user belongs to.
func (c *DirectoryClient) GetUserGroups(ctx context.Context, userID string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/api/v1/users/%s/groups", c.baseURL, url.PathEscape(userID))

	var resp struct {
		GroupIDs []string `json:"group_ids"`
	}
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	return resp.GroupIDs, nil
}

// PrincipalExists reports whether the directory knows the principal.
func (c *DirectoryClient) PrincipalExists(ctx context.Context, p approval.Principal) (bool, error) {
	resource := "users"
	if p.Kind == approval.PrincipalGroup {
		resource = "groups"
	}
	endpoint := fmt.Sprintf("%s/api/v1/%s/%s", c.baseURL, resource, url.PathEscape(p.ID))

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to build directory request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "directory service unreachable")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, errors.Newf(errors.ErrCodeInternal, "directory service returned status %d", resp.StatusCode)
	}
}

func (c *DirectoryClient) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to build directory request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "directory service unreachable")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return errors.New(errors.ErrCodeNotFound, "principal not found in directory")
	default:
		return errors.Newf(errors.ErrCodeInternal, "directory service returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to decode directory response")
	}
	return nil
}
