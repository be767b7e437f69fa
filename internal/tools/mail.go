package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// MailSearchInput are the arguments of mail.search.
type MailSearchInput struct {
	Query      string `json:"query" jsonschema:"description=Gmail search query such as from:alice or subject:invoice"`
	MaxResults int    `json:"maxResults,omitempty" jsonschema:"description=Maximum number of messages to return,minimum=1,maximum=25"`
}

// MailSummary is one entry of the mail.search result.
type MailSummary struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    string `json:"from"`
	Date    string `json:"date"`
	Snippet string `json:"snippet"`
}

// MailSearchResult is the output of mail.search.
type MailSearchResult struct {
	Messages []MailSummary `json:"messages"`
}

// MailTool searches the user's Gmail mailbox.
type MailTool struct {
	api         *googleAPI
	concurrency int
}

// NewMailTool creates the mail.search adapter.
func NewMailTool(baseURL string, httpClient *http.Client) *MailTool {
	return &MailTool{api: newGoogleAPI(baseURL, httpClient), concurrency: 5}
}

func (t *MailTool) Name() string { return "mail.search" }

func (t *MailTool) Description() string {
	return "Search the user's email and return subject, sender, date and a snippet for each match."
}

func (t *MailTool) Schema() json.RawMessage { return ReflectSchema(&MailSearchInput{}) }

func (t *MailTool) RequiresCredential() bool { return true }

type gmailList struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type gmailMessage struct {
	ID      string `json:"id"`
	Snippet string `json:"snippet"`
	Payload struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

// Execute lists matching messages and fetches their metadata concurrently.
// A message whose metadata cannot be fetched is returned as a placeholder.
func (t *MailTool) Execute(ctx context.Context, args json.RawMessage, cred *domain.Credential) (json.RawMessage, error) {
	if err := requireCredential(cred); err != nil {
		return nil, err
	}
	var in MailSearchInput
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, &domain.ValidationError{Message: err.Error()}
		}
	}
	if in.MaxResults <= 0 {
		in.MaxResults = 10
	}

	query := url.Values{}
	query.Set("q", in.Query)
	query.Set("maxResults", strconv.Itoa(in.MaxResults))

	var list gmailList
	if err := t.api.getJSON(ctx, cred, "/gmail/v1/users/me/messages", query, &list); err != nil {
		return nil, err
	}

	summaries := make([]MailSummary, len(list.Messages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for i, ref := range list.Messages {
		i, ref := i, ref
		g.Go(func() error {
			summaries[i] = t.fetchSummary(gctx, cred, ref.ID)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	return json.Marshal(MailSearchResult{Messages: summaries})
}

func (t *MailTool) fetchSummary(ctx context.Context, cred *domain.Credential, id string) MailSummary {
	summary := MailSummary{ID: id, Subject: "No Subject", From: "Unknown", Date: "Unknown"}

	query := url.Values{}
	query.Set("format", "metadata")
	query["metadataHeaders"] = []string{"Subject", "From", "Date"}

	var msg gmailMessage
	if err := t.api.getJSON(ctx, cred, "/gmail/v1/users/me/messages/"+url.PathEscape(id), query, &msg); err != nil {
		log.Warn().Err(err).Str("tool", t.Name()).Str("message_id", id).Msg("failed to fetch message metadata")
		return summary
	}

	summary.Snippet = msg.Snippet
	for _, h := range msg.Payload.Headers {
		if h.Value == "" {
			continue
		}
		switch h.Name {
		case "Subject":
			summary.Subject = h.Value
		case "From":
			summary.From = h.Value
		case "Date":
			summary.Date = h.Value
		}
	}
	return summary
}
