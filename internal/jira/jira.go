package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Ilia01/jira2pr/internal/config"
	"github.com/Ilia01/jira2pr/internal/models"
)

type Client struct {
	baseURL    string
	username   string
	apiVersion string
	auth       config.AuthMethod
	http       *http.Client
}

func NewClient(cfg config.JiraConfig) *Client {
	version := cfg.APIVersion
	if version == "" {
		version = config.DefaultJiraAPIVersion
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		username:   cfg.Username,
		apiVersion: version,
		auth:       cfg.AuthMethod,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) applyAuth(req *http.Request) {
	switch c.auth.Type {
	case config.AuthBearer:
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.auth.Token))
	default:
		req.SetBasicAuth(c.username, c.auth.Token)
	}
}

// TicketURL is the browser link for ticketID.
func (c *Client) TicketURL(ticketID string) string {
	return fmt.Sprintf("%s/browse/%s", c.baseURL, ticketID)
}

// GetTicket fetches ticketID with a single request.
func (c *Client) GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	endpoint := fmt.Sprintf("%s/rest/api/%s/issue/%s", c.baseURL, c.apiVersion, url.PathEscape(ticketID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "build jira request", goerr.V("ticket_id", ticketID))
	}
	req.Header.Set("Accept", "application/json")
	c.applyAuth(req)

	var issue models.JiraIssue
	if err := c.doJSON(req, &issue, models.ErrTicketNotFound); err != nil {
		return nil, goerr.Wrap(err, "fetch jira ticket", goerr.V("ticket_id", ticketID))
	}

	description, err := descriptionText(issue.Fields.Description)
	if err != nil {
		return nil, goerr.Wrap(err, "parse ticket description", goerr.V("ticket_id", ticketID))
	}

	key := issue.Key
	if key == "" {
		key = ticketID
	}
	return &models.Ticket{
		ID:          key,
		URL:         c.TicketURL(key),
		Summary:     issue.Fields.Summary,
		Description: description,
		Status:      issue.Fields.Status.Name,
	}, nil
}

func (c *Client) TestConnection(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/rest/api/%s/myself", c.baseURL, c.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return goerr.Wrap(err, "build jira request")
	}
	c.applyAuth(req)
	// A 404 here means a wrong base URL or API version, not a missing ticket.
	return c.do(req, nil, nil)
}

func (c *Client) doJSON(req *http.Request, v any, notFound error) error {
	return c.do(req, notFound, func(body []byte) error {
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(body, v); err != nil {
			return goerr.Wrap(err, "parse jira response")
		}
		return nil
	})
}

// do sends req and maps the status onto the shared error kinds. A 404 wraps
// notFound when it is set and is a plain api error otherwise.
func (c *Client) do(req *http.Request, notFound error, handler func([]byte) error) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return goerr.Wrap(models.ErrUnreachable, err.Error(), goerr.V("url", req.URL.Redacted()))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return goerr.Wrap(models.ErrUnreachable, err.Error(), goerr.V("url", req.URL.Redacted()))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && notFound != nil:
		return goerr.Wrap(notFound, "jira returned 404", goerr.V("url", req.URL.Redacted()))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return goerr.Wrap(models.ErrAuthFailure, fmt.Sprintf("jira returned %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return goerr.New(fmt.Sprintf("jira api error (%d)", resp.StatusCode),
			goerr.V("status", resp.StatusCode),
			goerr.V("url", req.URL.Redacted()),
			goerr.V("body", string(data)))
	}

	if handler != nil {
		return handler(data)
	}
	return nil
}
