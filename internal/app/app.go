package app

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/Ilia01/jira2pr/internal/config"
	"github.com/Ilia01/jira2pr/internal/prdesc"
	"github.com/Ilia01/jira2pr/internal/utils"
)

var version = "dev"

var (
	runHandler        = handleRun
	checkHandler      = handleCheck
	configShowHandler = handleConfigShow
	configSetHandler  = handleConfigSet
	configPathHandler = handleConfigPath
)

// UpdateKind says whether and how the pull request to update is chosen.
type UpdateKind int

const (
	NoUpdate UpdateKind = iota
	UpdateByNumber
	UpdateAutoFind
)

type UpdateTarget struct {
	Kind   UpdateKind
	Number int
}

const autoFindValue = "auto"

// ParseUpdateTarget reads the --update-pr value: empty means no update, the
// bare flag means locate the pull request by ticket, a number picks it.
func ParseUpdateTarget(value string) (UpdateTarget, error) {
	switch strings.TrimSpace(value) {
	case "":
		return UpdateTarget{Kind: NoUpdate}, nil
	case autoFindValue:
		return UpdateTarget{Kind: UpdateAutoFind}, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(value), "#"))
	if err != nil || n <= 0 {
		return UpdateTarget{}, goerr.New("--update-pr expects a pull request number", goerr.V("value", value))
	}
	return UpdateTarget{Kind: UpdateByNumber, Number: n}, nil
}

// cliFlags holds the raw flag values of one command tree.
type cliFlags struct {
	configPath string

	jiraURL      string
	username     string
	apiToken     string
	jiraAuthType string

	githubToken          string
	githubOwner          string
	githubRepo           string
	githubAppID          int64
	githubInstallationID int64
	githubPrivateKey     string

	ticketPrefix  string
	knownProjects string

	logLevel  string
	logFormat string
	sentryDSN string

	output      string
	findPR      bool
	updatePR    string
	batchUpdate bool
	dryRun      bool
	replace     bool
	simple      bool
	report      string
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}

	rootCmd := &cobra.Command{
		Use:   "jira2pr [ticket-id]",
		Short: "Copy Jira ticket details into GitHub pull requests",
		Long: "jira2pr fetches a Jira ticket and writes a formatted block into the description\n" +
			"of the matching GitHub pull request, for one ticket or for every open pull request.",
		Version:       version,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := buildRunOptions(cmd, flags, args)
			if err != nil {
				return err
			}
			defer opts.Logger.Flush(flushTimeout)
			return runHandler(ctxlog.With(cmd.Context(), opts.Logger.Logger), opts)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Config file (default ~/.jira2pr/config.toml)")
	pf.StringVar(&flags.jiraURL, "jira-url", "", "Jira base URL (env JIRA_URL)")
	pf.StringVar(&flags.username, "username", "", "Jira username (env JIRA_USERNAME)")
	pf.StringVar(&flags.apiToken, "api-token", "", "Jira API token (env JIRA_API_TOKEN)")
	pf.StringVar(&flags.jiraAuthType, "jira-auth-type", "", "Jira auth type: basic or bearer (env JIRA_AUTH_TYPE)")
	pf.StringVar(&flags.githubToken, "github-token", "", "GitHub token (env GITHUB_TOKEN)")
	pf.StringVar(&flags.githubOwner, "github-owner", "", "GitHub repository owner (env GITHUB_OWNER)")
	pf.StringVar(&flags.githubRepo, "github-repo", "", "GitHub repository name (env GITHUB_REPO)")
	pf.Int64Var(&flags.githubAppID, "github-app-id", 0, "GitHub App ID (env GITHUB_APP_ID)")
	pf.Int64Var(&flags.githubInstallationID, "github-installation-id", 0, "GitHub App installation ID (env GITHUB_APP_INSTALLATION_ID)")
	pf.StringVar(&flags.githubPrivateKey, "github-private-key", "", "GitHub App private key PEM (env GITHUB_APP_PRIVATE_KEY)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (env JIRA2PR_LOG_LEVEL)")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log format: console or json (env JIRA2PR_LOG_FORMAT)")
	pf.StringVar(&flags.sentryDSN, "sentry-dsn", "", "Sentry DSN for error reporting (env SENTRY_DSN)")

	f := rootCmd.Flags()
	f.StringVarP(&flags.output, "output", "o", "", "Write the ticket block to a file, or - for stdout")
	f.BoolVar(&flags.findPR, "find-pr", false, "Find the open pull request whose title carries the ticket")
	f.StringVar(&flags.updatePR, "update-pr", "", "Update a pull request: --update-pr to find it, --update-pr N to pick it")
	f.Lookup("update-pr").NoOptDefVal = autoFindValue
	f.BoolVar(&flags.batchUpdate, "batch-update", false, "Update every open pull request with a ticket in its title")
	f.StringVar(&flags.ticketPrefix, "ticket-prefix", "", "Only accept tickets whose key starts with this prefix (env JIRA_TICKET_PREFIX)")
	f.StringVar(&flags.knownProjects, "known-projects", "", "Comma separated project keys to accept (env JIRA_KNOWN_PROJECTS)")
	f.BoolVar(&flags.dryRun, "dry-run", false, "Show what would change without writing to GitHub")
	f.BoolVar(&flags.replace, "replace", false, "Replace the pull request description instead of appending")
	f.BoolVar(&flags.simple, "simple", false, "Leave the ticket description out of the block")
	f.StringVar(&flags.report, "report", "", "Write the batch summary to a .json or .yaml file")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and test the Jira connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(cmd, flags)
			if err != nil {
				return err
			}
			defer env.Logger.Flush(flushTimeout)
			return checkHandler(ctxlog.With(cmd.Context(), env.Logger.Logger), env)
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}
	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(cmd, flags)
			if err != nil {
				return err
			}
			return configShowHandler(env)
		},
	}
	configSetCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a value in the config file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return configSetHandler(cmd.OutOrStdout(), flags.configPath, args[0], args[1])
		},
	}
	configPathCmd := &cobra.Command{
		Use:   "path",
		Short: "Show config path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return configPathHandler(cmd.OutOrStdout(), flags.configPath)
		},
	}
	configCmd.AddCommand(configShowCmd, configSetCmd, configPathCmd)

	rootCmd.AddCommand(checkCmd, configCmd)
	return rootCmd
}

// applyFlags overlays the flags that were set explicitly.
func applyFlags(cmd *cobra.Command, flags *cliFlags, s *config.Settings) {
	f := cmd.Flags()
	str := func(name, value string, dst *string) {
		if f.Changed(name) {
			*dst = value
		}
	}
	num := func(name string, value int64, dst *int64) {
		if f.Changed(name) {
			*dst = value
		}
	}

	str("jira-url", flags.jiraURL, &s.Jira.URL)
	str("username", flags.username, &s.Jira.Username)
	str("api-token", flags.apiToken, &s.Jira.AuthMethod.Token)
	str("jira-auth-type", flags.jiraAuthType, &s.Jira.AuthMethod.Type)

	str("github-token", flags.githubToken, &s.GitHub.Token)
	str("github-owner", flags.githubOwner, &s.GitHub.Owner)
	str("github-repo", flags.githubRepo, &s.GitHub.Repo)
	str("github-private-key", flags.githubPrivateKey, &s.GitHub.PrivateKey)
	num("github-app-id", flags.githubAppID, &s.GitHub.AppID)
	num("github-installation-id", flags.githubInstallationID, &s.GitHub.InstallationID)

	str("log-level", flags.logLevel, &s.Logging.Level)
	str("log-format", flags.logFormat, &s.Logging.Format)
	str("sentry-dsn", flags.sentryDSN, &s.Logging.SentryDSN)

	str("ticket-prefix", flags.ticketPrefix, &s.Options.TicketPrefix)
	if f.Changed("known-projects") {
		s.Options.KnownProjects = config.SplitList(flags.knownProjects)
	}
	if f.Changed("simple") {
		s.Options.Simple = flags.simple
	}
	if f.Changed("replace") {
		s.Options.Replace = flags.replace
	}
}

func ticketFilter(s *config.Settings) utils.TicketFilter {
	return utils.TicketFilter{
		Prefix:        s.Options.TicketPrefix,
		KnownProjects: s.Options.KnownProjects,
	}
}

func updateMode(s *config.Settings) prdesc.Mode {
	if s.Options.Replace {
		return prdesc.ModeReplace
	}
	return prdesc.ModeAppend
}
