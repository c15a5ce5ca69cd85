package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"

	"github.com/Ilia01/jira2pr/internal/config"
	"github.com/Ilia01/jira2pr/internal/models"
	"github.com/Ilia01/jira2pr/internal/prdesc"
	githubProvider "github.com/Ilia01/jira2pr/internal/providers/github"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestParseUpdateTarget(t *testing.T) {
	tests := []struct {
		value   string
		want    UpdateTarget
		wantErr bool
	}{
		{"", UpdateTarget{Kind: NoUpdate}, false},
		{"auto", UpdateTarget{Kind: UpdateAutoFind}, false},
		{"42", UpdateTarget{Kind: UpdateByNumber, Number: 42}, false},
		{"#7", UpdateTarget{Kind: UpdateByNumber, Number: 7}, false},
		{"0", UpdateTarget{}, true},
		{"XY-1", UpdateTarget{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ParseUpdateTarget(tt.value)
			if tt.wantErr {
				gt.Error(t, err)
				return
			}
			gt.NoError(t, err)
			gt.Value(t, got).Equal(tt.want)
		})
	}
}

func TestRootCommandParsesFlags(t *testing.T) {
	setupEnv(t)

	tests := []struct {
		args   []string
		ticket string
		update UpdateTarget
		find   bool
	}{
		{[]string{"XY-123"}, "XY-123", UpdateTarget{Kind: NoUpdate}, false},
		{[]string{"xy 7", "--update-pr"}, "XY-7", UpdateTarget{Kind: UpdateAutoFind}, false},
		{[]string{"--update-pr", "XY-8"}, "XY-8", UpdateTarget{Kind: UpdateAutoFind}, false},
		{[]string{"XY-9", "--update-pr=42"}, "XY-9", UpdateTarget{Kind: UpdateByNumber, Number: 42}, false},
		{[]string{"XY-10", "--find-pr"}, "XY-10", UpdateTarget{Kind: NoUpdate}, true},
		{[]string{"XY-123", "--update-pr", "42"}, "XY-123", UpdateTarget{Kind: UpdateByNumber, Number: 42}, false},
		{[]string{"--update-pr", "42", "XY-11"}, "XY-11", UpdateTarget{Kind: UpdateByNumber, Number: 42}, false},
		{[]string{"XY-12", "--update-pr", "#7"}, "XY-12", UpdateTarget{Kind: UpdateByNumber, Number: 7}, false},
		{[]string{"--update-pr", "42"}, "", UpdateTarget{Kind: UpdateByNumber, Number: 42}, false},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			var got runOptions
			restore := swapRunHandler(func(_ context.Context, opts runOptions) error {
				got = opts
				return nil
			})
			defer restore()

			if _, _, err := executeCLI(tt.args...); err != nil {
				t.Fatalf("command failed: %v", err)
			}
			gt.Value(t, got.TicketID).Equal(tt.ticket)
			gt.Value(t, got.Update).Equal(tt.update)
			gt.Value(t, got.FindPR).Equal(tt.find)
		})
	}
}

func TestRootCommandRejectsTwoTickets(t *testing.T) {
	setupEnv(t)
	restore := swapRunHandler(func(context.Context, runOptions) error {
		t.Fatalf("handler must not run")
		return nil
	})
	defer restore()

	_, _, err := executeCLI("XY-1", "XY-2")
	gt.Error(t, err)
	_, _, err = executeCLI("XY-1", "42", "--find-pr")
	gt.Error(t, err)
}

func TestRunHandlerReceivesContextLogger(t *testing.T) {
	setupEnv(t)
	restore := swapRunHandler(func(ctx context.Context, opts runOptions) error {
		ctxlog.From(ctx).Info("handler reached", "ticket_id", opts.TicketID)
		return nil
	})
	defer restore()

	_, stderr, err := executeCLI("XY-5", "--log-format", "json")
	gt.NoError(t, err)
	gt.String(t, stderr).Contains(`"msg":"handler reached"`)
	gt.String(t, stderr).Contains(`"run_id"`)
}

func TestBatchUpdateRejectsTicket(t *testing.T) {
	setupEnv(t)
	restore := swapRunHandler(func(context.Context, runOptions) error {
		t.Fatalf("handler must not run")
		return nil
	})
	defer restore()

	_, _, err := executeCLI("--batch-update", "XY-1")
	gt.Error(t, err)
}

func TestSettingsPrecedence(t *testing.T) {
	setupEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	file := config.Defaults()
	file.Jira.URL = "https://file.example.com"
	file.Jira.Username = "file-user"
	file.Options.TicketPrefix = "AB"
	gt.NoError(t, file.SaveTo(path))

	t.Setenv("JIRA_URL", "")
	t.Setenv("JIRA_USERNAME", "env-user")

	var got *config.Settings
	restore := swapRunHandler(func(_ context.Context, opts runOptions) error {
		got = opts.Settings
		return nil
	})
	defer restore()

	_, _, err := executeCLI("--config", path, "--ticket-prefix", "XY", "XY-1")
	gt.NoError(t, err)
	gt.Value(t, got.Jira.URL).Equal("https://file.example.com")
	gt.Value(t, got.Jira.Username).Equal("env-user")
	gt.Value(t, got.Options.TicketPrefix).Equal("XY")

	_, _, err = executeCLI("--config", path, "--username", "flag-user", "XY-1")
	gt.NoError(t, err)
	gt.Value(t, got.Jira.Username).Equal("flag-user")
	gt.Value(t, got.Options.TicketPrefix).Equal("AB")
}

func TestMissingExplicitConfig(t *testing.T) {
	setupEnv(t)
	_, _, err := executeCLI("--config", filepath.Join(t.TempDir(), "missing.toml"), "XY-1")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, config.ErrConfigNotFound))
}

func TestSinglePrintsBlockByDefault(t *testing.T) {
	setupEnv(t)
	installFakes(t, &fakeJira{}, &fakeGitHub{})

	stdout, _, err := executeCLI("xy-123")
	gt.NoError(t, err)
	gt.Value(t, stdout).Equal(prdesc.Format(sampleTicket("XY-123"), false))
}

func TestSingleSimpleOutputFile(t *testing.T) {
	setupEnv(t)
	installFakes(t, &fakeJira{}, &fakeGitHub{})
	path := filepath.Join(t.TempDir(), "block.md")

	stdout, _, err := executeCLI("XY-123", "--simple", "--output", path)
	gt.NoError(t, err)
	gt.Value(t, stdout).Equal("")

	data, err := os.ReadFile(path)
	gt.NoError(t, err)
	gt.Value(t, string(data)).Equal(prdesc.Format(sampleTicket("XY-123"), true))
}

func TestSingleFetchFailureWritesNothing(t *testing.T) {
	setupEnv(t)
	jira := &fakeJira{err: goerr.Wrap(models.ErrTicketNotFound, "jira returned 404")}
	gh := &fakeGitHub{prs: []models.PullRequest{{Number: 1, Title: "XY-404 fix"}}}
	installFakes(t, jira, gh)
	path := filepath.Join(t.TempDir(), "block.md")

	_, _, err := executeCLI("XY-404", "--output", path, "--update-pr")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, models.ErrTicketNotFound))
	gt.Value(t, models.ErrorKind(err)).Equal("ticket-not-found")

	_, statErr := os.Stat(path)
	gt.True(t, os.IsNotExist(statErr))
	gt.Equal(t, len(gh.updates), 0)
}

func TestSingleUpdateAutoFindIsIdempotent(t *testing.T) {
	setupEnv(t)
	gh := &fakeGitHub{prs: []models.PullRequest{
		{Number: 3, Title: "XY-12 unrelated"},
		{Number: 5, Title: "XY-123: Fix login bug", Body: "Original body"},
	}}
	installFakes(t, &fakeJira{}, gh)

	_, stderr, err := executeCLI("XY-123", "--update-pr")
	gt.NoError(t, err)
	gt.String(t, stderr).Contains("#5")
	block := prdesc.Format(sampleTicket("XY-123"), false)
	gt.Value(t, gh.updates[5]).Equal("Original body" + prdesc.Separator + block)

	_, stderr, err = executeCLI("XY-123", "--update-pr")
	gt.NoError(t, err)
	gt.String(t, stderr).Contains("already contains")
	gt.Equal(t, gh.writeCount, 1)
}

func TestSingleUpdateAutoFindLongProjectKey(t *testing.T) {
	setupEnv(t)
	gh := &fakeGitHub{prs: []models.PullRequest{
		{Number: 4, Title: "SUBPROJ-123 unrelated"},
		{Number: 6, Title: "PROJ-123: Fix login bug", Body: "Original body"},
	}}
	installFakes(t, &fakeJira{}, gh)

	_, stderr, err := executeCLI("PROJ-123", "--update-pr")
	gt.NoError(t, err)
	gt.String(t, stderr).Contains("#6")
	gt.Equal(t, gh.writeCount, 1)
	gt.String(t, gh.updates[6]).Contains(prdesc.Sentinel)
}

func TestSingleUpdateByPositionalNumber(t *testing.T) {
	setupEnv(t)
	gh := &fakeGitHub{prs: []models.PullRequest{{Number: 42, Title: "no ticket here", Body: "old"}}}
	installFakes(t, &fakeJira{}, gh)

	_, _, err := executeCLI("XY-123", "--update-pr", "42")
	gt.NoError(t, err)
	gt.Value(t, gh.updates[42]).Equal("old" + prdesc.Separator + prdesc.Format(sampleTicket("XY-123"), false))
}

func TestSingleUpdateFailureWritesNoOutput(t *testing.T) {
	setupEnv(t)
	gh := &fakeGitHub{
		prs:       []models.PullRequest{{Number: 5, Title: "XY-123 fix", Body: "Original body"}},
		updateErr: goerr.Wrap(models.ErrAuthFailure, "github returned 401"),
	}
	installFakes(t, &fakeJira{}, gh)
	path := filepath.Join(t.TempDir(), "block.md")

	_, _, err := executeCLI("XY-123", "--output", path, "--update-pr")
	gt.Error(t, err)
	gt.Value(t, models.ErrorKind(err)).Equal("auth-failure")

	_, statErr := os.Stat(path)
	gt.True(t, os.IsNotExist(statErr))
}

func TestSingleUpdateThenOutput(t *testing.T) {
	setupEnv(t)
	gh := &fakeGitHub{prs: []models.PullRequest{{Number: 5, Title: "XY-123 fix", Body: "Original body"}}}
	installFakes(t, &fakeJira{}, gh)
	path := filepath.Join(t.TempDir(), "block.md")

	_, _, err := executeCLI("XY-123", "--output", path, "--update-pr")
	gt.NoError(t, err)
	gt.Equal(t, gh.writeCount, 1)

	data, err := os.ReadFile(path)
	gt.NoError(t, err)
	gt.Value(t, string(data)).Equal(prdesc.Format(sampleTicket("XY-123"), false))
}

func TestSingleUpdateByNumberReplace(t *testing.T) {
	setupEnv(t)
	gh := &fakeGitHub{prs: []models.PullRequest{{Number: 9, Title: "no ticket here", Body: "old"}}}
	installFakes(t, &fakeJira{}, gh)

	_, _, err := executeCLI("XY-123", "--update-pr=9", "--replace", "--simple")
	gt.NoError(t, err)
	gt.Value(t, gh.updates[9]).Equal(prdesc.Format(sampleTicket("XY-123"), true))
}

func TestSingleDryRun(t *testing.T) {
	setupEnv(t)
	gh := &fakeGitHub{prs: []models.PullRequest{{Number: 5, Title: "XY-123 fix", Body: "Original body"}}}
	installFakes(t, &fakeJira{}, gh)

	stdout, stderr, err := executeCLI("XY-123", "--update-pr", "--dry-run")
	gt.NoError(t, err)
	gt.String(t, stderr).Contains("[dry-run]")
	gt.String(t, stdout).Contains("Original body\n\n" + prdesc.Sentinel)
	gt.Equal(t, gh.writeCount, 0)
}

func TestSingleAutoFindNotFound(t *testing.T) {
	setupEnv(t)
	installFakes(t, &fakeJira{}, &fakeGitHub{prs: []models.PullRequest{{Number: 1, Title: "XY-1234 other"}}})

	_, _, err := executeCLI("XY-123", "--update-pr")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, models.ErrPRNotFound))
}

func TestSingleFindOnlyNotFoundSucceeds(t *testing.T) {
	setupEnv(t)
	installFakes(t, &fakeJira{}, &fakeGitHub{})

	_, stderr, err := executeCLI("XY-123", "--find-pr")
	gt.NoError(t, err)
	gt.String(t, stderr).Contains("No open pull request found")
}

func TestSingleTicketFromBranch(t *testing.T) {
	setupEnv(t)
	jira := &fakeJira{}
	installFakes(t, jira, &fakeGitHub{})
	branchLookup = func() (string, error) { return "feat/XY-77/new_widget", nil }

	_, _, err := executeCLI()
	gt.NoError(t, err)
	gt.Equal(t, jira.requested, []string{"XY-77"})
}

func TestSingleRequiresTicket(t *testing.T) {
	setupEnv(t)
	installFakes(t, &fakeJira{}, &fakeGitHub{})

	_, _, err := executeCLI()
	gt.Error(t, err)
}

func TestSingleRequiresJiraSettings(t *testing.T) {
	setupEnv(t)
	t.Setenv("JIRA_URL", "")
	installFakes(t, &fakeJira{}, &fakeGitHub{})

	_, _, err := executeCLI("XY-1")
	gt.Error(t, err)
	gt.String(t, err.Error()).Contains("JIRA_URL")
}

func TestGitHubRepositoryFromRemote(t *testing.T) {
	setupEnv(t)
	t.Setenv("GITHUB_OWNER", "")
	t.Setenv("GITHUB_REPO", "")
	gh := &fakeGitHub{prs: []models.PullRequest{{Number: 5, Title: "XY-123 fix"}}}
	installFakes(t, &fakeJira{}, gh)
	repositoryLookup = func() (string, string, error) { return "acme", "widgets", nil }

	_, _, err := executeCLI("XY-123", "--find-pr")
	gt.NoError(t, err)
	gt.Value(t, gh.cfg.Owner).Equal("acme")
	gt.Value(t, gh.cfg.Repo).Equal("widgets")
}

func TestBatchUpdate(t *testing.T) {
	setupEnv(t)
	existing := prdesc.Format(sampleTicket("XY-1"), false)
	gh := &fakeGitHub{prs: []models.PullRequest{
		{Number: 1, Title: "XY-1 done", Body: existing},
		{Number: 2, Title: "XY-2 todo", Body: "Original body"},
		{Number: 3, Title: "chore: deps"},
		{Number: 4, Title: "XY-404 missing"},
	}}
	jira := &fakeJira{missing: map[string]bool{"XY-404": true}}
	installFakes(t, jira, gh)
	report := filepath.Join(t.TempDir(), "report.yaml")

	stdout, _, err := executeCLI("--batch-update", "--report", report)
	gt.NoError(t, err)
	gt.String(t, stdout).Contains("Batch update summary for acme/widgets")
	gt.String(t, stdout).Contains("ticket-not-found")
	gt.Equal(t, gh.writeCount, 1)
	gt.Value(t, gh.updates[2]).Equal("Original body" + prdesc.Separator + prdesc.Format(sampleTicket("XY-2"), false))

	data, err := os.ReadFile(report)
	gt.NoError(t, err)
	gt.String(t, string(data)).Contains("skipped_already_present: 1")
	gt.String(t, string(data)).Contains("failed: 1")
}

func TestBatchUpdateDryRun(t *testing.T) {
	setupEnv(t)
	gh := &fakeGitHub{prs: []models.PullRequest{{Number: 2, Title: "XY-2 todo"}}}
	installFakes(t, &fakeJira{}, gh)

	stdout, _, err := executeCLI("--batch-update", "--dry-run")
	gt.NoError(t, err)
	gt.String(t, stdout).Contains("(dry run)")
	gt.String(t, stdout).Contains("| " + prdesc.Sentinel)
	gt.Equal(t, gh.writeCount, 0)
}

func TestBatchUpdateListFailure(t *testing.T) {
	setupEnv(t)
	gh := &fakeGitHub{listErr: goerr.Wrap(models.ErrAuthFailure, "Bad credentials")}
	installFakes(t, &fakeJira{}, gh)

	_, _, err := executeCLI("--batch-update")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, models.ErrAuthFailure))
}

func TestCheckCommand(t *testing.T) {
	setupEnv(t)
	gh := &fakeGitHub{prs: []models.PullRequest{{Number: 1}, {Number: 2}}}
	installFakes(t, &fakeJira{}, gh)

	stdout, _, err := executeCLI("check")
	gt.NoError(t, err)
	gt.String(t, stdout).Contains("acme/widgets, 2 open pull requests")
}

func TestCheckCommandJiraFailure(t *testing.T) {
	setupEnv(t)
	installFakes(t, &fakeJira{connErr: goerr.Wrap(models.ErrUnreachable, "dial tcp")}, &fakeGitHub{})

	_, _, err := executeCLI("check")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, models.ErrUnreachable))
}

func TestConfigSetAndShow(t *testing.T) {
	setupEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	stdout, _, err := executeCLI("config", "set", "--config", path, "jira.token", "secret-token-value")
	gt.NoError(t, err)
	gt.String(t, stdout).NotContains("secret-token-value")

	_, _, err = executeCLI("config", "set", "--config", path, "options.known_projects", "XY, AB")
	gt.NoError(t, err)

	settings, err := config.Load(path)
	gt.NoError(t, err)
	gt.Value(t, settings.Jira.AuthMethod.Token).Equal("secret-token-value")
	gt.Equal(t, settings.Options.KnownProjects, []string{"XY", "AB"})

	t.Setenv("JIRA_API_TOKEN", "")
	stdout, _, err = executeCLI("config", "show", "--config", path)
	gt.NoError(t, err)
	gt.String(t, stdout).Contains("[options]")
	gt.String(t, stdout).NotContains("secret-token-value")
}

func TestConfigSetInvokesHandler(t *testing.T) {
	called := false
	orig := configSetHandler
	configSetHandler = func(_ io.Writer, path, key, value string) error {
		called = true
		if key != "jira.url" || value != "https://jira" {
			t.Fatalf("unexpected args %s %s", key, value)
		}
		return nil
	}
	defer func() { configSetHandler = orig }()

	if _, _, err := executeCLI("config", "set", "jira.url", "https://jira"); err != nil {
		t.Fatalf("config set failed: %v", err)
	}
	if !called {
		t.Fatalf("handler not called")
	}
}

func TestConfigPath(t *testing.T) {
	home := setupEnv(t)

	stdout, _, err := executeCLI("config", "path")
	gt.NoError(t, err)
	gt.Value(t, strings.TrimSpace(stdout)).Equal(filepath.Join(home, ".jira2pr", "config.toml"))
}

func executeCLI(args ...string) (string, string, error) {
	if args == nil {
		args = []string{}
	}
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// setupEnv isolates the run from the real home directory and environment and
// returns the temporary home.
func setupEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"JIRA_AUTH_TYPE", "JIRA_API_VERSION", "GITHUB_API_URL",
		"GITHUB_APP_ID", "GITHUB_APP_INSTALLATION_ID", "GITHUB_APP_PRIVATE_KEY",
		"JIRA_TICKET_PREFIX", "JIRA_KNOWN_PROJECTS",
		"JIRA2PR_LOG_LEVEL", "JIRA2PR_LOG_FORMAT", "SENTRY_DSN",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("JIRA_URL", "https://jira.example.com")
	t.Setenv("JIRA_USERNAME", "dev@example.com")
	t.Setenv("JIRA_API_TOKEN", "jira-token")
	t.Setenv("GITHUB_TOKEN", "gh-token")
	t.Setenv("GITHUB_OWNER", "acme")
	t.Setenv("GITHUB_REPO", "widgets")

	origRepo, origBranch := repositoryLookup, branchLookup
	repositoryLookup = func() (string, string, error) { return "", "", errors.New("no git") }
	branchLookup = func() (string, error) { return "", errors.New("no git") }
	t.Cleanup(func() {
		repositoryLookup, branchLookup = origRepo, origBranch
	})
	return home
}

func swapRunHandler(fn func(context.Context, runOptions) error) func() {
	orig := runHandler
	runHandler = fn
	return func() { runHandler = orig }
}

func installFakes(t *testing.T, jira *fakeJira, gh *fakeGitHub) {
	t.Helper()
	origJira, origGitHub := jiraFactory, gitHubFactory
	jiraFactory = func(config.JiraConfig) ticketService { return jira }
	gitHubFactory = func(cfg config.GitHubConfig) (pullRequestService, error) {
		gh.cfg = cfg
		return gh, nil
	}
	t.Cleanup(func() {
		jiraFactory, gitHubFactory = origJira, origGitHub
	})
}

func sampleTicket(id string) models.Ticket {
	return models.Ticket{
		ID:          id,
		URL:         "https://jira.example.com/browse/" + id,
		Summary:     "Fix login bug",
		Description: "Users cannot log in.",
		Status:      "To Do",
	}
}

type fakeJira struct {
	err       error
	connErr   error
	missing   map[string]bool
	requested []string
}

func (f *fakeJira) GetTicket(_ context.Context, id string) (*models.Ticket, error) {
	f.requested = append(f.requested, id)
	if f.err != nil {
		return nil, f.err
	}
	if f.missing[id] {
		return nil, goerr.Wrap(models.ErrTicketNotFound, "jira returned 404", goerr.V("ticket_id", id))
	}
	ticket := sampleTicket(id)
	return &ticket, nil
}

func (f *fakeJira) TestConnection(context.Context) error {
	return f.connErr
}

type fakeGitHub struct {
	cfg        config.GitHubConfig
	prs        []models.PullRequest
	listErr    error
	updateErr  error
	updates    map[int]string
	writeCount int
}

func (f *fakeGitHub) Repository() string {
	return f.cfg.Owner + "/" + f.cfg.Repo
}

func (f *fakeGitHub) ListOpenPullRequests(context.Context) ([]models.PullRequest, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.PullRequest, len(f.prs))
	copy(out, f.prs)
	return out, nil
}

func (f *fakeGitHub) GetPullRequest(_ context.Context, number int) (*models.PullRequest, error) {
	for _, pr := range f.prs {
		if pr.Number == number {
			return &pr, nil
		}
	}
	return nil, goerr.Wrap(models.ErrPRNotFound, "not found", goerr.V("number", number))
}

func (f *fakeGitHub) UpdatePullRequestBody(_ context.Context, number int, body string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if f.updates == nil {
		f.updates = map[int]string{}
	}
	f.updates[number] = body
	f.writeCount++
	for i := range f.prs {
		if f.prs[i].Number == number {
			f.prs[i].Body = body
		}
	}
	return nil
}

func (f *fakeGitHub) FindPullRequestByTicket(ctx context.Context, ticketID string) (*models.PullRequest, error) {
	prs, err := f.ListOpenPullRequests(ctx)
	if err != nil {
		return nil, err
	}
	matches := githubProvider.MatchByTicket(prs, ticketID)
	if len(matches) == 0 {
		return nil, goerr.Wrap(models.ErrPRNotFound, "no match", goerr.V("ticket_id", ticketID))
	}
	return &matches[0], nil
}
