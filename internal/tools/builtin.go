package tools

import "net/http"

// GoogleEndpoints are the base URLs of the Google APIs the builtin tools call.
type GoogleEndpoints struct {
	PeopleURL string
	GmailURL  string
}

// RegisterBuiltins registers contacts.list and mail.search.
func RegisterBuiltins(r *Registry, endpoints GoogleEndpoints, httpClient *http.Client) error {
	if err := r.Register(NewContactsTool(endpoints.PeopleURL, httpClient)); err != nil {
		return err
	}
	return r.Register(NewMailTool(endpoints.GmailURL, httpClient))
}
