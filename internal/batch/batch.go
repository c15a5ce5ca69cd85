// Package batch sweeps every open pull request of a repository and writes the
// ticket block into those that do not carry one yet.
package batch

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/Ilia01/jira2pr/internal/models"
	"github.com/Ilia01/jira2pr/internal/prdesc"
	"github.com/Ilia01/jira2pr/internal/utils"
)

type TicketFetcher interface {
	GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error)
}

type PullRequestService interface {
	ListOpenPullRequests(ctx context.Context) ([]models.PullRequest, error)
	UpdatePullRequestBody(ctx context.Context, number int, body string) error
}

type Outcome string

const (
	OutcomeUpdated        Outcome = "updated"
	OutcomeAlreadyPresent Outcome = "skipped-already-present"
	OutcomeNoTicket       Outcome = "skipped-no-ticket"
	OutcomeFailed         Outcome = "failed"
)

type Options struct {
	Filter utils.TicketFilter
	Mode   prdesc.Mode
	Simple bool
	DryRun bool
}

// Result is the outcome for a single pull request.
type Result struct {
	Number    int     `json:"number" yaml:"number"`
	Title     string  `json:"title" yaml:"title"`
	TicketID  string  `json:"ticket_id,omitempty" yaml:"ticket_id,omitempty"`
	Outcome   Outcome `json:"outcome" yaml:"outcome"`
	ErrorKind string  `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error     string  `json:"error,omitempty" yaml:"error,omitempty"`
	// Body is the description a dry run would have written.
	Body string `json:"body,omitempty" yaml:"body,omitempty"`
}

type Summary struct {
	Repository            string   `json:"repository,omitempty" yaml:"repository,omitempty"`
	Total                 int      `json:"total" yaml:"total"`
	Updated               int      `json:"updated" yaml:"updated"`
	SkippedAlreadyPresent int      `json:"skipped_already_present" yaml:"skipped_already_present"`
	SkippedNoTicket       int      `json:"skipped_no_ticket" yaml:"skipped_no_ticket"`
	Failed                int      `json:"failed" yaml:"failed"`
	DryRun                bool     `json:"dry_run" yaml:"dry_run"`
	Results               []Result `json:"results" yaml:"results"`
}

func (s *Summary) record(r Result) {
	switch r.Outcome {
	case OutcomeUpdated:
		s.Updated++
	case OutcomeAlreadyPresent:
		s.SkippedAlreadyPresent++
	case OutcomeNoTicket:
		s.SkippedNoTicket++
	case OutcomeFailed:
		s.Failed++
	}
	s.Results = append(s.Results, r)
}

type Runner struct {
	tickets TicketFetcher
	prs     PullRequestService
	opts    Options
}

func NewRunner(tickets TicketFetcher, prs PullRequestService, opts Options) *Runner {
	return &Runner{tickets: tickets, prs: prs, opts: opts}
}

// Run lists open pull requests once and processes them in listing order.
// Only a listing failure is returned; per pull request failures are recorded
// in the summary and the sweep continues. Logs go to the logger carried by ctx.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	logger := ctxlog.From(ctx)
	prs, err := r.prs.ListOpenPullRequests(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list open pull requests")
	}

	summary := &Summary{
		Total:   len(prs),
		DryRun:  r.opts.DryRun,
		Results: make([]Result, 0, len(prs)),
	}
	for _, pr := range prs {
		if err := ctx.Err(); err != nil {
			return summary, goerr.Wrap(err, "batch update interrupted",
				goerr.V("processed", len(summary.Results)))
		}
		result := r.process(ctx, logger, pr)
		summary.record(result)
	}

	logger.Info("Batch update finished",
		"total", summary.Total,
		"updated", summary.Updated,
		"already_present", summary.SkippedAlreadyPresent,
		"no_ticket", summary.SkippedNoTicket,
		"failed", summary.Failed,
		"dry_run", summary.DryRun,
	)
	return summary, nil
}

func (r *Runner) process(ctx context.Context, logger *slog.Logger, pr models.PullRequest) Result {
	result := Result{Number: pr.Number, Title: pr.Title}
	logger = logger.With("pr", pr.Number)

	ticketID, ok := utils.ExtractTicketID(pr.Title, r.opts.Filter)
	if !ok {
		logger.Debug("No ticket in title", "title", pr.Title)
		result.Outcome = OutcomeNoTicket
		return result
	}
	result.TicketID = ticketID
	logger = logger.With("ticket_id", ticketID)

	if prdesc.HasBlock(pr.Body) {
		logger.Debug("Ticket block already present")
		result.Outcome = OutcomeAlreadyPresent
		return result
	}

	ticket, err := r.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return r.fail(logger, result, err)
	}

	block := prdesc.Format(*ticket, r.opts.Simple)
	decision := prdesc.Plan(pr.Body, block, r.opts.Mode)
	if !decision.NeedsWrite() {
		result.Outcome = OutcomeAlreadyPresent
		return result
	}

	if r.opts.DryRun {
		logger.Info("Dry run, pull request left unchanged", "mode", r.opts.Mode.String())
		result.Outcome = OutcomeUpdated
		result.Body = decision.Body
		return result
	}

	if err := r.prs.UpdatePullRequestBody(ctx, pr.Number, decision.Body); err != nil {
		return r.fail(logger, result, err)
	}
	logger.Info("Updated pull request", "mode", r.opts.Mode.String())
	result.Outcome = OutcomeUpdated
	return result
}

func (r *Runner) fail(logger *slog.Logger, result Result, err error) Result {
	result.Outcome = OutcomeFailed
	result.ErrorKind = models.ErrorKind(err)
	result.Error = err.Error()
	logger.Warn("Pull request update failed", "kind", result.ErrorKind, "error", err)
	return result
}
