package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/Ilia01/jira2pr/internal/batch"
	"github.com/Ilia01/jira2pr/internal/config"
	"github.com/Ilia01/jira2pr/internal/git"
	"github.com/Ilia01/jira2pr/internal/jira"
	"github.com/Ilia01/jira2pr/internal/logging"
	"github.com/Ilia01/jira2pr/internal/models"
	"github.com/Ilia01/jira2pr/internal/prdesc"
	githubProvider "github.com/Ilia01/jira2pr/internal/providers/github"
	"github.com/Ilia01/jira2pr/internal/utils"
)

const flushTimeout = 2 * time.Second

type ticketService interface {
	GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error)
	TestConnection(ctx context.Context) error
}

type pullRequestService interface {
	ListOpenPullRequests(ctx context.Context) ([]models.PullRequest, error)
	GetPullRequest(ctx context.Context, number int) (*models.PullRequest, error)
	UpdatePullRequestBody(ctx context.Context, number int, body string) error
	FindPullRequestByTicket(ctx context.Context, ticketID string) (*models.PullRequest, error)
	Repository() string
}

var (
	jiraFactory = func(cfg config.JiraConfig) ticketService {
		return jira.NewClient(cfg)
	}

	gitHubFactory = func(cfg config.GitHubConfig) (pullRequestService, error) {
		return githubProvider.NewClient(cfg)
	}

	// repositoryLookup and branchLookup read the local git checkout.
	repositoryLookup = func() (string, string, error) {
		client, err := git.NewClient()
		if err != nil {
			return "", "", err
		}
		return client.Repository()
	}

	branchLookup = func() (string, error) {
		client, err := git.NewClient()
		if err != nil {
			return "", err
		}
		return client.CurrentBranch()
	}
)

// environment is the resolved configuration of one invocation.
type environment struct {
	Settings *config.Settings
	Logger   *logging.Logger
	Stdout   io.Writer
	Stderr   io.Writer
}

type runOptions struct {
	environment

	TicketID string
	Output   string
	FindPR   bool
	Update   UpdateTarget
	Batch    bool
	DryRun   bool
	Report   string
}

// loadEnvironment resolves settings as flags > environment > config file >
// defaults and builds the logger.
func loadEnvironment(cmd *cobra.Command, flags *cliFlags) (environment, error) {
	settings, err := config.Load(flags.configPath)
	if err != nil {
		return environment{}, err
	}
	if err := settings.ApplyEnv(os.LookupEnv); err != nil {
		return environment{}, err
	}
	applyFlags(cmd, flags, settings)
	if strings.EqualFold(settings.Logging.Format, logging.FormatJSON) {
		utils.DisableColor()
	}

	logger, err := logging.Configure(logging.Config{
		Level:     settings.Logging.Level,
		Format:    settings.Logging.Format,
		SentryDSN: settings.Logging.SentryDSN,
		NoColor:   color.NoColor,
		Version:   version,
	}, cmd.ErrOrStderr())
	if err != nil {
		return environment{}, err
	}
	logger.Debug("Configuration resolved", "settings", settings)

	return environment{
		Settings: settings,
		Logger:   logger,
		Stdout:   cmd.OutOrStdout(),
		Stderr:   cmd.ErrOrStderr(),
	}, nil
}

func buildRunOptions(cmd *cobra.Command, flags *cliFlags, args []string) (runOptions, error) {
	target, err := ParseUpdateTarget(flags.updatePR)
	if err != nil {
		return runOptions{}, err
	}
	if cmd.Flags().Changed("update-pr") {
		args = takePullRequestNumber(&target, args)
	}
	if len(args) > 1 {
		return runOptions{}, goerr.New("expected at most one ticket ID", goerr.V("args", args))
	}
	if flags.batchUpdate && (len(args) > 0 || target.Kind != NoUpdate || flags.findPR) {
		return runOptions{}, errors.New("--batch-update cannot be combined with a ticket, --find-pr or --update-pr")
	}

	env, err := loadEnvironment(cmd, flags)
	if err != nil {
		return runOptions{}, err
	}

	opts := runOptions{
		environment: env,
		Output:      flags.output,
		FindPR:      flags.findPR,
		Update:      target,
		Batch:       flags.batchUpdate,
		DryRun:      flags.dryRun,
		Report:      flags.report,
	}
	if len(args) > 0 {
		opts.TicketID = utils.NormalizeTicketID(args[0])
	}
	return opts, nil
}

// takePullRequestNumber lets a bare --update-pr pick up a numeric positional
// as its value, so "XY-1 --update-pr 42" updates #42. It returns the
// remaining positionals.
func takePullRequestNumber(target *UpdateTarget, args []string) []string {
	if target.Kind != UpdateAutoFind {
		return args
	}
	for i, arg := range args {
		if !isPullRequestNumber(arg) {
			continue
		}
		*target, _ = ParseUpdateTarget(arg)
		rest := append([]string{}, args[:i]...)
		return append(rest, args[i+1:]...)
	}
	return args
}

func isPullRequestNumber(arg string) bool {
	t, err := ParseUpdateTarget(arg)
	return err == nil && t.Kind == UpdateByNumber
}

func handleRun(ctx context.Context, opts runOptions) error {
	if opts.Batch {
		return runBatch(ctx, opts)
	}
	return runSingle(ctx, opts)
}

func runSingle(ctx context.Context, opts runOptions) error {
	settings := opts.Settings
	ticketID, err := resolveTicketID(opts)
	if err != nil {
		return err
	}
	if err := settings.ValidateJira(); err != nil {
		return err
	}

	var gh pullRequestService
	if opts.FindPR || opts.Update.Kind != NoUpdate {
		gh, err = newPullRequestService(opts.environment)
		if err != nil {
			return err
		}
	}

	fmt.Fprintln(opts.Stderr, utils.Dim(fmt.Sprintf("Fetching ticket %s...", ticketID)))
	ticket, err := jiraFactory(settings.Jira).GetTicket(ctx, ticketID)
	if err != nil {
		return goerr.Wrap(err, "failed to fetch ticket", goerr.V("ticket_id", ticketID))
	}
	fmt.Fprintln(opts.Stderr, utils.Green(fmt.Sprintf("✓ %s: %s", ticket.ID, ticket.Summary)))

	var found *models.PullRequest
	if opts.FindPR || opts.Update.Kind == UpdateAutoFind {
		found, err = gh.FindPullRequestByTicket(ctx, ticket.ID)
		switch {
		case err == nil:
			fmt.Fprintf(opts.Stderr, "%s #%d %s\n", utils.Green("✓ Found PR"), found.Number, found.Title)
			if found.URL != "" {
				fmt.Fprintf(opts.Stderr, "  %s\n", utils.BrightWhite(found.URL))
			}
		case errors.Is(err, models.ErrPRNotFound) && opts.Update.Kind != UpdateAutoFind:
			fmt.Fprintln(opts.Stderr, utils.Yellow(fmt.Sprintf("No open pull request found for %s", ticket.ID)))
		default:
			return err
		}
	}

	block := prdesc.Format(*ticket, settings.Options.Simple)

	if opts.Output == "" && !opts.FindPR && opts.Update.Kind == NoUpdate {
		_, err := io.WriteString(opts.Stdout, block)
		return err
	}

	// The output file is written only once the pull request side succeeded.
	var updateErr error
	switch opts.Update.Kind {
	case UpdateByNumber:
		updateErr = updatePullRequest(ctx, opts, gh, opts.Update.Number, block)
	case UpdateAutoFind:
		updateErr = updatePullRequest(ctx, opts, gh, found.Number, block)
	}
	if updateErr != nil {
		return updateErr
	}
	return writeOutput(opts, block)
}

// resolveTicketID falls back to the current branch name when no ticket was
// given on the command line.
func resolveTicketID(opts runOptions) (string, error) {
	if opts.TicketID != "" {
		return opts.TicketID, nil
	}
	branch, err := branchLookup()
	if err == nil {
		if id, ok := utils.ExtractTicketID(branch, ticketFilter(opts.Settings)); ok {
			opts.Logger.Debug("Ticket taken from branch", "branch", branch, "ticket_id", id)
			return id, nil
		}
	}
	return "", errors.New("ticket ID is required. Pass it as an argument or run from a branch named after the ticket")
}

func writeOutput(opts runOptions, block string) error {
	switch opts.Output {
	case "":
		return nil
	case "-":
		_, err := io.WriteString(opts.Stdout, block)
		return err
	}
	if err := os.WriteFile(opts.Output, []byte(block), 0o644); err != nil {
		return goerr.Wrap(err, "failed to write output", goerr.V("path", opts.Output))
	}
	fmt.Fprintln(opts.Stderr, utils.Green(fmt.Sprintf("✓ Description written to %s", opts.Output)))
	return nil
}

func updatePullRequest(ctx context.Context, opts runOptions, gh pullRequestService, number int, block string) error {
	pr, err := gh.GetPullRequest(ctx, number)
	if err != nil {
		return err
	}

	mode := updateMode(opts.Settings)
	decision := prdesc.Plan(pr.Body, block, mode)
	if !decision.NeedsWrite() {
		fmt.Fprintln(opts.Stderr, utils.Yellow(fmt.Sprintf("PR #%d already contains the ticket block, nothing to do", number)))
		return nil
	}

	if opts.DryRun {
		fmt.Fprintln(opts.Stderr, utils.Cyan(fmt.Sprintf("[dry-run] PR #%d would be updated (%s). New description:", number, mode)))
		_, err := io.WriteString(opts.Stdout, decision.Body)
		return err
	}

	if err := gh.UpdatePullRequestBody(ctx, number, decision.Body); err != nil {
		return err
	}
	opts.Logger.Info("Pull request updated", "pr", number, "mode", mode.String())
	fmt.Fprintln(opts.Stderr, utils.Green(utils.Bold(fmt.Sprintf("✓ Updated PR #%d (%s)", number, mode))))
	return nil
}

func runBatch(ctx context.Context, opts runOptions) error {
	settings := opts.Settings
	if err := settings.ValidateJira(); err != nil {
		return err
	}
	gh, err := newPullRequestService(opts.environment)
	if err != nil {
		return err
	}

	runner := batch.NewRunner(jiraFactory(settings.Jira), gh, batch.Options{
		Filter: ticketFilter(settings),
		Mode:   updateMode(settings),
		Simple: settings.Options.Simple,
		DryRun: opts.DryRun,
	})

	fmt.Fprintln(opts.Stderr, utils.Cyan(fmt.Sprintf("Scanning open pull requests in %s...", gh.Repository())))
	summary, err := runner.Run(ctx)
	if err != nil {
		opts.Logger.Error("Batch update aborted", "error", err, "kind", models.ErrorKind(err))
		return err
	}
	summary.Repository = gh.Repository()

	printSummary(opts.Stdout, summary)
	if opts.Report != "" {
		if err := summary.WriteReport(opts.Report); err != nil {
			return err
		}
		fmt.Fprintln(opts.Stderr, utils.Dim(fmt.Sprintf("Report written to %s", opts.Report)))
	}
	if summary.Failed > 0 {
		opts.Logger.Error("Some pull requests could not be updated", "failed", summary.Failed)
	}
	return nil
}

// newPullRequestService validates GitHub settings, filling owner and repo
// from the origin remote when they are missing.
func newPullRequestService(env environment) (pullRequestService, error) {
	gh := &env.Settings.GitHub
	if gh.Owner == "" || gh.Repo == "" {
		if owner, repo, err := repositoryLookup(); err == nil {
			if gh.Owner == "" {
				gh.Owner = owner
			}
			if gh.Repo == "" {
				gh.Repo = repo
			}
			env.Logger.Debug("Repository taken from git remote", "owner", gh.Owner, "repo", gh.Repo)
		}
	}
	if err := env.Settings.ValidateGitHub(); err != nil {
		return nil, err
	}
	return gitHubFactory(*gh)
}

func printSummary(w io.Writer, s *batch.Summary) {
	title := "Batch update summary"
	if s.Repository != "" {
		title += " for " + s.Repository
	}
	if s.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintln(w, utils.Cyan(utils.Bold(title)))
	fmt.Fprintln(w)

	for _, r := range s.Results {
		label := r.TicketID
		if label == "" {
			label = "-"
		}
		line := fmt.Sprintf("  #%-5d %-10s %s", r.Number, label, colorOutcome(r.Outcome))
		if r.Error != "" {
			line += " " + utils.Dim(fmt.Sprintf("(%s: %s)", r.ErrorKind, r.Error))
		}
		fmt.Fprintln(w, line)
		if r.Body != "" {
			for _, bodyLine := range strings.Split(strings.TrimRight(r.Body, "\n"), "\n") {
				fmt.Fprintln(w, utils.Dim("         | "+bodyLine))
			}
		}
	}
	if len(s.Results) > 0 {
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "  %s %d\n", utils.Bold("Total:          "), s.Total)
	fmt.Fprintf(w, "  %s %s\n", utils.Bold("Updated:        "), utils.Green(fmt.Sprint(s.Updated)))
	fmt.Fprintf(w, "  %s %d\n", utils.Bold("Already present:"), s.SkippedAlreadyPresent)
	fmt.Fprintf(w, "  %s %d\n", utils.Bold("No ticket:      "), s.SkippedNoTicket)
	failed := fmt.Sprint(s.Failed)
	if s.Failed > 0 {
		failed = utils.Red(failed)
	}
	fmt.Fprintf(w, "  %s %s\n", utils.Bold("Failed:         "), failed)
}

func colorOutcome(o batch.Outcome) string {
	switch o {
	case batch.OutcomeUpdated:
		return utils.Green(string(o))
	case batch.OutcomeFailed:
		return utils.Red(string(o))
	case batch.OutcomeAlreadyPresent:
		return utils.Yellow(string(o))
	default:
		return utils.Dim(string(o))
	}
}

func handleCheck(ctx context.Context, env environment) error {
	settings := env.Settings
	fmt.Fprintln(env.Stdout, utils.Cyan(utils.Bold("Validating configuration...")))
	fmt.Fprintln(env.Stdout)

	fmt.Fprint(env.Stdout, utils.Dim("  Jira settings... "))
	if err := settings.ValidateJira(); err != nil {
		fmt.Fprintln(env.Stdout, utils.Red("✗"))
		return err
	}
	fmt.Fprintln(env.Stdout, utils.Green("✓"))

	fmt.Fprint(env.Stdout, utils.Dim("  Jira connection... "))
	if err := jiraFactory(settings.Jira).TestConnection(ctx); err != nil {
		fmt.Fprintln(env.Stdout, utils.Red("✗"))
		return goerr.Wrap(err, "jira connection failed", goerr.V("url", settings.Jira.URL))
	}
	fmt.Fprintln(env.Stdout, utils.Green("✓"))

	fmt.Fprint(env.Stdout, utils.Dim("  GitHub settings... "))
	gh, err := newPullRequestService(env)
	if err != nil {
		fmt.Fprintln(env.Stdout, utils.Yellow("skipped"))
		fmt.Fprintln(env.Stdout, utils.Dim(fmt.Sprintf("    %v", err)))
		return nil
	}
	prs, err := gh.ListOpenPullRequests(ctx)
	if err != nil {
		fmt.Fprintln(env.Stdout, utils.Red("✗"))
		return err
	}
	fmt.Fprintf(env.Stdout, "%s %s\n", utils.Green("✓"),
		utils.Dim(fmt.Sprintf("%s, %d open pull requests", gh.Repository(), len(prs))))
	return nil
}

func handleConfigShow(env environment) error {
	printConfig(env.Stdout, env.Settings)
	return nil
}

func handleConfigSet(w io.Writer, path, key, value string) error {
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	settings, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, config.ErrConfigNotFound) {
			return err
		}
		settings = config.Defaults()
	}
	if err := settings.Set(key, value); err != nil {
		return err
	}
	if err := settings.SaveTo(path); err != nil {
		return err
	}

	shown := value
	if isSecretKey(key) {
		shown = config.MaskToken(value)
	}
	fmt.Fprintln(w, utils.Green(utils.Bold(fmt.Sprintf("✓ Updated %s to: %s", key, shown))))
	return nil
}

func handleConfigPath(w io.Writer, path string) error {
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	fmt.Fprintln(w, path)
	return nil
}

func isSecretKey(key string) bool {
	return strings.HasSuffix(key, ".token") || strings.HasSuffix(key, ".private_key") || strings.HasSuffix(key, ".sentry_dsn")
}

func printConfig(w io.Writer, settings *config.Settings) {
	field := func(name, value string) {
		fmt.Fprintf(w, "  %s %s\n", utils.Dim(name+":"), utils.BrightWhite(value))
	}
	secret := func(name, value string) {
		fmt.Fprintf(w, "  %s %s\n", utils.Dim(name+":"), utils.Yellow(config.MaskToken(value)))
	}

	fmt.Fprintln(w, utils.Cyan(utils.Bold("Current Configuration")))
	fmt.Fprintln(w)

	fmt.Fprintln(w, utils.Bold("[jira]"))
	field("url", settings.Jira.URL)
	field("username", settings.Jira.Username)
	field("api_version", settings.Jira.APIVersion)
	field("auth_method", settings.Jira.AuthMethod.Type)
	secret("token", settings.Jira.AuthMethod.Token)

	fmt.Fprintln(w)
	fmt.Fprintln(w, utils.Bold("[github]"))
	field("owner", settings.GitHub.Owner)
	field("repo", settings.GitHub.Repo)
	if settings.GitHub.APIURL != "" {
		field("api_url", settings.GitHub.APIURL)
	}
	if settings.GitHub.UsesApp() {
		field("app_id", fmt.Sprint(settings.GitHub.AppID))
		field("installation_id", fmt.Sprint(settings.GitHub.InstallationID))
	} else {
		secret("token", settings.GitHub.Token)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, utils.Bold("[options]"))
	field("ticket_prefix", settings.Options.TicketPrefix)
	field("known_projects", strings.Join(settings.Options.KnownProjects, ","))
	field("simple", fmt.Sprint(settings.Options.Simple))
	field("replace", fmt.Sprint(settings.Options.Replace))

	fmt.Fprintln(w)
	fmt.Fprintln(w, utils.Bold("[logging]"))
	field("level", settings.Logging.Level)
	field("format", settings.Logging.Format)
}
