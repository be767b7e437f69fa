package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

var testCred = &domain.Credential{Provider: "google", AccessToken: "token-123"}

func newRegistry(t *testing.T, peopleURL, gmailURL string, timeout time.Duration) *Registry {
	t.Helper()
	r := NewRegistry(timeout)
	require.NoError(t, RegisterBuiltins(r, GoogleEndpoints{PeopleURL: peopleURL, GmailURL: gmailURL}, nil))
	return r
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry(0)
	require.NoError(t, r.Register(NewContactsTool("http://unused", nil)))
	assert.Error(t, r.Register(NewContactsTool("http://unused", nil)))

	names := []string{}
	for _, tool := range r.List() {
		names = append(names, tool.Name())
	}
	assert.Equal(t, []string{"contacts.list"}, names)
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry(0)
	_, err := r.Execute(context.Background(), "calendar.list", nil, testCred)
	assert.ErrorIs(t, err, domain.ErrUnknownTool)
}

func TestRegistryValidatesArguments(t *testing.T) {
	r := newRegistry(t, "http://unused", "http://unused", 0)

	_, err := r.Execute(context.Background(), "mail.search", json.RawMessage(`{"maxResults":3}`), testCred)
	assert.ErrorIs(t, err, domain.ErrValidation, "query is required")

	_, err = r.Execute(context.Background(), "contacts.list", json.RawMessage(`{"pageSize":"ten"}`), testCred)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = r.Execute(context.Background(), "contacts.list", json.RawMessage(`not json`), testCred)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCredentialMissingMakesNoNetworkCall(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r := newRegistry(t, server.URL, server.URL, 0)
	for _, cred := range []*domain.Credential{nil, {Provider: "google"}} {
		_, err := r.Execute(context.Background(), "contacts.list", nil, cred)
		assert.ErrorIs(t, err, domain.ErrCredentialMissing)
		assert.Equal(t, "access token not available", err.Error())

		_, err = r.Execute(context.Background(), "mail.search", json.RawMessage(`{"query":"x"}`), cred)
		assert.ErrorIs(t, err, domain.ErrCredentialMissing)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestCredentialCheckedBeforeArguments(t *testing.T) {
	r := newRegistry(t, "http://unused", "http://unused", 0)

	_, err := r.Execute(context.Background(), "mail.search", json.RawMessage(`{"maxResults":"many"}`), nil)
	assert.ErrorIs(t, err, domain.ErrCredentialMissing)
	assert.Equal(t, "credential_missing", domain.ErrorCode(err))

	_, err = r.Execute(context.Background(), "contacts.list", json.RawMessage(`not json`), &domain.Credential{Provider: "google"})
	assert.ErrorIs(t, err, domain.ErrCredentialMissing)
}

func TestContactsStructuredOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/people/me/connections", r.URL.Path)
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		assert.Equal(t, "names,emailAddresses,phoneNumbers", r.URL.Query().Get("personFields"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"connections":[
			{"names":[{"displayName":"Ada Lovelace"}],"emailAddresses":[{"value":"ada@example.com"}],"phoneNumbers":[{"value":"+44 1"}]},
			{"emailAddresses":[{"value":"nameless@example.com"}]},
			{"names":[{"displayName":"Grace"}]}
		]}`))
	}))
	defer server.Close()

	r := newRegistry(t, server.URL, server.URL, time.Second)
	out, err := r.Execute(context.Background(), "contacts.list", json.RawMessage(`{"pageSize":10}`), testCred)
	require.NoError(t, err)

	assert.JSONEq(t, `{"contacts":[
		{"name":"Ada Lovelace","email":"ada@example.com","phone":"+44 1"},
		{"name":"Unknown","email":"nameless@example.com"},
		{"name":"Grace"}
	]}`, string(out))
}

func TestContactsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"insufficient scope"}`))
	}))
	defer server.Close()

	r := newRegistry(t, server.URL, server.URL, time.Second)
	_, err := r.Execute(context.Background(), "contacts.list", nil, testCred)

	var upstream *domain.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusForbidden, upstream.Status)
	assert.Contains(t, upstream.Body, "insufficient scope")
}

func TestMailSearchKeepsOrderAndPlaceholders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/gmail/v1/users/me/messages":
			assert.Equal(t, "from:ada", r.URL.Query().Get("q"))
			_, _ = w.Write([]byte(`{"messages":[{"id":"m1"},{"id":"m2"},{"id":"m3"},{"id":"m4"}]}`))
		case strings.HasSuffix(r.URL.Path, "/m1"):
			time.Sleep(30 * time.Millisecond)
			_, _ = w.Write([]byte(`{"id":"m1","snippet":"first","payload":{"headers":[{"name":"Subject","value":"Hello"},{"name":"From","value":"Ada"},{"name":"Date","value":"Mon, 1 Jan 2024"}]}}`))
		case strings.HasSuffix(r.URL.Path, "/m2"):
			w.WriteHeader(http.StatusInternalServerError)
		case strings.HasSuffix(r.URL.Path, "/m3"):
			_, _ = w.Write([]byte(`{"id":"m3","payload":{"headers":[]}}`))
		case strings.HasSuffix(r.URL.Path, "/m4"):
			assert.Equal(t, "metadata", r.URL.Query().Get("format"))
			_, _ = w.Write([]byte(`{"id":"m4","snippet":"fourth","payload":{"headers":[{"name":"From","value":"Bob"}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	r := newRegistry(t, server.URL, server.URL, time.Second)
	out, err := r.Execute(context.Background(), "mail.search", json.RawMessage(`{"query":"from:ada","maxResults":4}`), testCred)
	require.NoError(t, err)

	assert.JSONEq(t, `{"messages":[
		{"id":"m1","subject":"Hello","from":"Ada","date":"Mon, 1 Jan 2024","snippet":"first"},
		{"id":"m2","subject":"No Subject","from":"Unknown","date":"Unknown","snippet":""},
		{"id":"m3","subject":"No Subject","from":"Unknown","date":"Unknown","snippet":""},
		{"id":"m4","subject":"No Subject","from":"Bob","date":"Unknown","snippet":"fourth"}
	]}`, string(out))
}

func TestMailSearchEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"resultSizeEstimate":0}`))
	}))
	defer server.Close()

	r := newRegistry(t, server.URL, server.URL, time.Second)
	out, err := r.Execute(context.Background(), "mail.search", json.RawMessage(`{"query":"nothing"}`), testCred)
	require.NoError(t, err)
	assert.JSONEq(t, `{"messages":[]}`, string(out))
}

func TestToolTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	r := newRegistry(t, server.URL, server.URL, 50*time.Millisecond)
	_, err := r.Execute(context.Background(), "contacts.list", nil, testCred)
	assert.ErrorIs(t, err, domain.ErrUpstreamTimeout)
}

func TestSchemaReflection(t *testing.T) {
	var schema map[string]any
	require.NoError(t, json.Unmarshal(NewMailTool("", nil).Schema(), &schema))
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []any{"query"}, schema["required"])
	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "maxResults")
}
