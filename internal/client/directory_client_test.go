package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeworks/be-doc-approvals/internal/approval"
	"github.com/scribeworks/be-doc-approvals/internal/errors"
)

func newDirectoryServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/groups/reviewers/members", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user_ids":["carol","dave"]}`))
	})
	mux.HandleFunc("/api/v1/users/alice/groups", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"group_ids":["reviewers"]}`))
	})
	mux.HandleFunc("/api/v1/users/alice", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/groups/reviewers", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func TestExpandPrincipal(t *testing.T) {
	srv := newDirectoryServer(t)
	defer srv.Close()
	c := NewDirectoryClient(srv.URL, time.Second)
	ctx := context.Background()

	// Users expand to themselves without a round trip.
	users, err := c.ExpandPrincipal(ctx, approval.Principal{Kind: approval.PrincipalUser, ID: "anyone"})
	require.NoError(t, err)
	assert.Equal(t, []string{"anyone"}, users)

	users, err = c.ExpandPrincipal(ctx, approval.Principal{Kind: approval.PrincipalGroup, ID: "reviewers"})
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "dave"}, users)

	_, err = c.ExpandPrincipal(ctx, approval.Principal{Kind: approval.PrincipalGroup, ID: "nonexistent"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.Code(err))
}

func TestGetUserGroups(t *testing.T) {
	srv := newDirectoryServer(t)
	defer srv.Close()
	c := NewDirectoryClient(srv.URL, time.Second)

	groups, err := c.GetUserGroups(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"reviewers"}, groups)
}

func TestPrincipalExists(t *testing.T) {
	srv := newDirectoryServer(t)
	defer srv.Close()
	c := NewDirectoryClient(srv.URL, time.Second)
	ctx := context.Background()

	exists, err := c.PrincipalExists(ctx, approval.Principal{Kind: approval.PrincipalUser, ID: "alice"})
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.PrincipalExists(ctx, approval.Principal{Kind: approval.PrincipalGroup, ID: "reviewers"})
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.PrincipalExists(ctx, approval.Principal{Kind: approval.PrincipalUser, ID: "ghost"})
	require.NoError(t, err)
	assert.False(t, exists)
}
