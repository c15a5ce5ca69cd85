package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
)

var ErrConfigNotFound = errors.New("configuration not found")

const (
	AuthBasic  = "basic"
	AuthBearer = "bearer"

	DefaultJiraAPIVersion = "3"
)

type Settings struct {
	Jira    JiraConfig    `toml:"jira"`
	GitHub  GitHubConfig  `toml:"github"`
	Options Options       `toml:"options"`
	Logging LoggingConfig `toml:"logging"`
}

type JiraConfig struct {
	URL        string     `toml:"url"`
	Username   string     `toml:"username"`
	APIVersion string     `toml:"api_version,omitempty"`
	AuthMethod AuthMethod `toml:"auth_method"`
}

// AuthMethod selects Basic (username + API token, Jira Cloud) or Bearer
// (personal access token, Data Center/Server) authentication.
type AuthMethod struct {
	Type  string `toml:"type"`
	Token string `toml:"token" masq:"secret"`
}

type GitHubConfig struct {
	Token          string `toml:"token,omitempty" masq:"secret"`
	Owner          string `toml:"owner,omitempty"`
	Repo           string `toml:"repo,omitempty"`
	APIURL         string `toml:"api_url,omitempty"`
	AppID          int64  `toml:"app_id,omitempty"`
	InstallationID int64  `toml:"installation_id,omitempty"`
	PrivateKey     string `toml:"private_key,omitempty" masq:"secret"`
}

func (g GitHubConfig) UsesApp() bool {
	return g.AppID != 0 && g.InstallationID != 0 && g.PrivateKey != ""
}

type Options struct {
	TicketPrefix  string   `toml:"ticket_prefix,omitempty"`
	KnownProjects []string `toml:"known_projects,omitempty"`
	Simple        bool     `toml:"simple,omitempty"`
	Replace       bool     `toml:"replace,omitempty"`
}

type LoggingConfig struct {
	Level     string `toml:"level,omitempty"`
	Format    string `toml:"format,omitempty"`
	SentryDSN string `toml:"sentry_dsn,omitempty" masq:"secret"`
}

func Defaults() *Settings {
	return &Settings{
		Jira: JiraConfig{
			APIVersion: DefaultJiraAPIVersion,
			AuthMethod: AuthMethod{Type: AuthBasic},
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads the config file at path, or the default location when path is
// empty. A missing default file yields Defaults; a missing explicit file is
// ErrConfigNotFound.
func Load(path string) (*Settings, error) {
	explicit := path != ""
	if !explicit {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	settings := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if explicit {
				return nil, goerr.Wrap(ErrConfigNotFound, "read config", goerr.V("path", path))
			}
			return settings, nil
		}
		return nil, goerr.Wrap(err, "read config", goerr.V("path", path))
	}

	if err := toml.Unmarshal(data, settings); err != nil {
		return nil, goerr.Wrap(err, "parse config", goerr.V("path", path))
	}
	return settings, nil
}

// Save writes the settings to the default location with owner-only permissions.
func (s *Settings) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return s.SaveTo(path)
}

func (s *Settings) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := toml.Marshal(s)
	if err != nil {
		return goerr.Wrap(err, "encode config")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Chmod(path, 0o600)
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(string) (string, bool)

// ApplyEnv overlays environment variables on top of file values.
func (s *Settings) ApplyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int64) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return goerr.Wrap(err, "invalid integer in environment", goerr.V("key", key))
		}
		*dst = n
		return nil
	}

	str("JIRA_URL", &s.Jira.URL)
	str("JIRA_USERNAME", &s.Jira.Username)
	str("JIRA_API_TOKEN", &s.Jira.AuthMethod.Token)
	str("JIRA_AUTH_TYPE", &s.Jira.AuthMethod.Type)
	str("JIRA_API_VERSION", &s.Jira.APIVersion)

	str("GITHUB_TOKEN", &s.GitHub.Token)
	str("GITHUB_OWNER", &s.GitHub.Owner)
	str("GITHUB_REPO", &s.GitHub.Repo)
	str("GITHUB_API_URL", &s.GitHub.APIURL)
	str("GITHUB_APP_PRIVATE_KEY", &s.GitHub.PrivateKey)
	if err := num("GITHUB_APP_ID", &s.GitHub.AppID); err != nil {
		return err
	}
	if err := num("GITHUB_APP_INSTALLATION_ID", &s.GitHub.InstallationID); err != nil {
		return err
	}

	str("JIRA_TICKET_PREFIX", &s.Options.TicketPrefix)
	if v, ok := lookup("JIRA_KNOWN_PROJECTS"); ok && v != "" {
		s.Options.KnownProjects = SplitList(v)
	}

	str("JIRA2PR_LOG_LEVEL", &s.Logging.Level)
	str("JIRA2PR_LOG_FORMAT", &s.Logging.Format)
	str("SENTRY_DSN", &s.Logging.SentryDSN)
	return nil
}

// ValidateJira checks the settings needed to fetch tickets.
func (s *Settings) ValidateJira() error {
	if s.Jira.URL == "" {
		return goerr.New("Jira URL is required. Set JIRA_URL environment variable or use --jira-url")
	}
	switch s.Jira.AuthMethod.Type {
	case AuthBasic, "":
		if s.Jira.Username == "" {
			return goerr.New("Username is required. Set JIRA_USERNAME environment variable or use --username")
		}
	case AuthBearer:
	default:
		return goerr.New("unknown Jira auth type", goerr.V("type", s.Jira.AuthMethod.Type))
	}
	if s.Jira.AuthMethod.Token == "" {
		return goerr.New("API token is required. Set JIRA_API_TOKEN environment variable or use --api-token")
	}
	return nil
}

// ValidateGitHub checks the settings needed to read and update pull requests.
func (s *Settings) ValidateGitHub() error {
	if s.GitHub.Token == "" && !s.GitHub.UsesApp() {
		return goerr.New("GitHub token is required. Set GITHUB_TOKEN environment variable or use --github-token")
	}
	if s.GitHub.Owner == "" {
		return goerr.New("GitHub owner is required. Set GITHUB_OWNER environment variable or use --github-owner")
	}
	if s.GitHub.Repo == "" {
		return goerr.New("GitHub repo is required. Set GITHUB_REPO environment variable or use --github-repo")
	}
	return nil
}

// LogValue keeps secrets out of log output.
func (s *Settings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("jira_url", s.Jira.URL),
		slog.String("jira_username", s.Jira.Username),
		slog.String("jira_auth", s.Jira.AuthMethod.Type),
		slog.String("jira_token", MaskToken(s.Jira.AuthMethod.Token)),
		slog.String("github_repo", s.GitHub.Owner+"/"+s.GitHub.Repo),
		slog.Bool("github_app", s.GitHub.UsesApp()),
		slog.String("github_token", MaskToken(s.GitHub.Token)),
		slog.String("ticket_prefix", s.Options.TicketPrefix),
	)
}

func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".jira2pr"), nil
}

func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// SplitList parses a comma separated list, dropping blanks.
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func MaskToken(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return fmt.Sprintf("%s***%s", token[:4], token[len(token)-4:])
}
