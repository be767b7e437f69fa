package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// ContactsInput are the arguments of contacts.list.
type ContactsInput struct {
	PageSize int `json:"pageSize,omitempty" jsonschema:"description=Maximum number of contacts to return,minimum=1,maximum=100"`
}

// Contact is one entry of the contacts.list result.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// ContactsResult is the output of contacts.list.
type ContactsResult struct {
	Contacts []Contact `json:"contacts"`
}

// ContactsTool lists the user's contacts from the Google People API.
type ContactsTool struct {
	api *googleAPI
}

// NewContactsTool creates the contacts.list adapter.
func NewContactsTool(baseURL string, httpClient *http.Client) *ContactsTool {
	return &ContactsTool{api: newGoogleAPI(baseURL, httpClient)}
}

func (t *ContactsTool) Name() string { return "contacts.list" }

func (t *ContactsTool) Description() string {
	return "List the user's contacts with their names, email addresses and phone numbers."
}

func (t *ContactsTool) Schema() json.RawMessage { return ReflectSchema(&ContactsInput{}) }

func (t *ContactsTool) RequiresCredential() bool { return true }

type peopleConnections struct {
	Connections []struct {
		Names []struct {
			DisplayName string `json:"displayName"`
		} `json:"names"`
		EmailAddresses []struct {
			Value string `json:"value"`
		} `json:"emailAddresses"`
		PhoneNumbers []struct {
			Value string `json:"value"`
		} `json:"phoneNumbers"`
	} `json:"connections"`
}

// Execute fetches one page of connections.
func (t *ContactsTool) Execute(ctx context.Context, args json.RawMessage, cred *domain.Credential) (json.RawMessage, error) {
	if err := requireCredential(cred); err != nil {
		return nil, err
	}
	var in ContactsInput
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, &domain.ValidationError{Message: err.Error()}
		}
	}
	if in.PageSize <= 0 {
		in.PageSize = 25
	}

	query := url.Values{}
	query.Set("personFields", "names,emailAddresses,phoneNumbers")
	query.Set("pageSize", strconv.Itoa(in.PageSize))

	var resp peopleConnections
	if err := t.api.getJSON(ctx, cred, "/v1/people/me/connections", query, &resp); err != nil {
		return nil, err
	}

	result := ContactsResult{Contacts: make([]Contact, 0, len(resp.Connections))}
	for _, conn := range resp.Connections {
		c := Contact{Name: "Unknown"}
		if len(conn.Names) > 0 && conn.Names[0].DisplayName != "" {
			c.Name = conn.Names[0].DisplayName
		}
		if len(conn.EmailAddresses) > 0 {
			c.Email = conn.EmailAddresses[0].Value
		}
		if len(conn.PhoneNumbers) > 0 {
			c.Phone = conn.PhoneNumbers[0].Value
		}
		result.Contacts = append(result.Contacts, c)
	}
	return json.Marshal(result)
}
