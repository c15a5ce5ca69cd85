package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v75/github"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/Ilia01/jira2pr/internal/config"
	"github.com/Ilia01/jira2pr/internal/models"
	"github.com/Ilia01/jira2pr/internal/utils"
)

const perPage = 100

// Client logs through the logger carried by each call's context.
type Client struct {
	owner string
	repo  string
	gh    *github.Client
}

// NewClient builds a client authenticated with either a token or GitHub App
// installation credentials.
func NewClient(cfg config.GitHubConfig) (*Client, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	var gh *github.Client
	if cfg.UsesApp() {
		itr, err := ghinstallation.New(http.DefaultTransport, cfg.AppID, cfg.InstallationID, []byte(cfg.PrivateKey))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create GitHub App transport", goerr.V("app_id", cfg.AppID))
		}
		if cfg.APIURL != "" {
			itr.BaseURL = strings.TrimSuffix(cfg.APIURL, "/")
		}
		httpClient.Transport = itr
		gh = github.NewClient(httpClient)
	} else {
		gh = github.NewClient(httpClient).WithAuthToken(cfg.Token)
	}

	if cfg.APIURL != "" {
		base := cfg.APIURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid GitHub API URL", goerr.V("url", cfg.APIURL))
		}
		gh.BaseURL = u
	}

	return &Client{
		owner: cfg.Owner,
		repo:  cfg.Repo,
		gh:    gh,
	}, nil
}

func (c *Client) Repository() string {
	return c.owner + "/" + c.repo
}

// ListOpenPullRequests walks every page of open pull requests in listing order.
func (c *Client) ListOpenPullRequests(ctx context.Context) ([]models.PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var result []models.PullRequest
	for {
		prs, resp, err := c.gh.PullRequests.List(ctx, c.owner, c.repo, opts)
		if err != nil {
			return nil, goerr.Wrap(classify(err, nil), "failed to list pull requests",
				goerr.V("repo", c.Repository()), goerr.V("page", opts.Page))
		}
		for _, pr := range prs {
			result = append(result, toModel(pr))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	ctxlog.From(ctx).Debug("Listed open pull requests", "repo", c.Repository(), "count", len(result))
	return result, nil
}

func (c *Client) GetPullRequest(ctx context.Context, number int) (*models.PullRequest, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		return nil, goerr.Wrap(classify(err, models.ErrPRNotFound), "failed to get pull request",
			goerr.V("repo", c.Repository()), goerr.V("number", number))
	}
	m := toModel(pr)
	return &m, nil
}

// UpdatePullRequestBody replaces the description of pull request number.
func (c *Client) UpdatePullRequestBody(ctx context.Context, number int, body string) error {
	_, _, err := c.gh.PullRequests.Edit(ctx, c.owner, c.repo, number, &github.PullRequest{
		Body: github.Ptr(body),
	})
	if err != nil {
		return goerr.Wrap(classify(err, models.ErrPRNotFound), "failed to update pull request",
			goerr.V("repo", c.Repository()), goerr.V("number", number))
	}
	ctxlog.From(ctx).Debug("Updated pull request body", "repo", c.Repository(), "number", number)
	return nil
}

// FindPullRequestByTicket returns the first open pull request whose title
// carries ticketID. Further matches are ignored.
func (c *Client) FindPullRequestByTicket(ctx context.Context, ticketID string) (*models.PullRequest, error) {
	prs, err := c.ListOpenPullRequests(ctx)
	if err != nil {
		return nil, err
	}

	matches := MatchByTicket(prs, ticketID)
	if len(matches) == 0 {
		return nil, goerr.Wrap(models.ErrPRNotFound, "no open pull request matches ticket",
			goerr.V("ticket_id", ticketID), goerr.V("repo", c.Repository()))
	}
	if len(matches) > 1 {
		numbers := make([]int, 0, len(matches))
		for _, pr := range matches {
			numbers = append(numbers, pr.Number)
		}
		ctxlog.From(ctx).Debug("Several pull requests match ticket, using the first",
			"ticket_id", ticketID, "numbers", numbers)
	}
	pr := matches[0]
	return &pr, nil
}

// MatchByTicket keeps the pull requests whose title carries ticketID. The key
// must not follow a letter and the number must not run into another digit,
// so "XY-12" never matches a title about "XY-123".
func MatchByTicket(prs []models.PullRequest, ticketID string) []models.PullRequest {
	pattern := ticketPattern(utils.NormalizeTicketID(ticketID))
	var matches []models.PullRequest
	for _, pr := range prs {
		if pattern.MatchString(pr.Title) {
			matches = append(matches, pr)
		}
	}
	return matches
}

func ticketPattern(id string) *regexp.Regexp {
	key, number := id, ""
	if i := strings.LastIndex(id, "-"); i > 0 {
		key, number = id[:i], id[i+1:]
	}
	expr := `(?i)(?:^|[^\pL])` + regexp.QuoteMeta(key)
	if number == "" {
		return regexp.MustCompile(expr + `(?:[^\pL]|$)`)
	}
	expr += `[-:]?[\s\p{Zs}]*` + regexp.QuoteMeta(number)
	return regexp.MustCompile(expr + `(?:[^\d]|$)`)
}

func toModel(pr *github.PullRequest) models.PullRequest {
	return models.PullRequest{
		Number: pr.GetNumber(),
		Title:  pr.GetTitle(),
		Body:   pr.GetBody(),
		URL:    pr.GetHTMLURL(),
	}
}

// classify maps go-github errors onto the shared error kinds.
func classify(err error, notFound error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return err
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return goerr.Wrap(models.ErrAuthFailure, respErr.Message)
		case http.StatusNotFound:
			if notFound != nil {
				return goerr.Wrap(notFound, respErr.Message)
			}
		}
		return err
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return goerr.Wrap(models.ErrUnreachable, fmt.Sprintf("%s %s", urlErr.Op, urlErr.Err))
	}
	return err
}
