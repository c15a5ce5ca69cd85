package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Set assigns a value addressed as section.field, e.g. "jira.url".
func (s *Settings) Set(key, value string) error {
	parts := strings.Split(key, ".")
	if len(parts) != 2 {
		return errors.New("invalid key format. Use section.field (e.g., jira.username)")
	}

	section, field := parts[0], parts[1]
	switch section {
	case "jira":
		switch field {
		case "url":
			s.Jira.URL = value
		case "username":
			s.Jira.Username = value
		case "token":
			s.Jira.AuthMethod.Token = value
		case "auth_method":
			s.Jira.AuthMethod.Type = value
		case "api_version":
			s.Jira.APIVersion = value
		default:
			return fmt.Errorf("unknown jira field: %s", field)
		}
	case "github":
		switch field {
		case "token":
			s.GitHub.Token = value
		case "owner":
			s.GitHub.Owner = value
		case "repo":
			s.GitHub.Repo = value
		case "api_url":
			s.GitHub.APIURL = value
		case "app_id", "installation_id":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", field, err)
			}
			if field == "app_id" {
				s.GitHub.AppID = n
			} else {
				s.GitHub.InstallationID = n
			}
		case "private_key":
			s.GitHub.PrivateKey = value
		default:
			return fmt.Errorf("unknown github field: %s", field)
		}
	case "options":
		switch field {
		case "ticket_prefix":
			s.Options.TicketPrefix = value
		case "known_projects":
			s.Options.KnownProjects = SplitList(value)
		case "simple", "replace":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", field, err)
			}
			if field == "simple" {
				s.Options.Simple = b
			} else {
				s.Options.Replace = b
			}
		default:
			return fmt.Errorf("unknown options field: %s", field)
		}
	case "logging":
		switch field {
		case "level":
			s.Logging.Level = value
		case "format":
			s.Logging.Format = value
		case "sentry_dsn":
			s.Logging.SentryDSN = value
		default:
			return fmt.Errorf("unknown logging field: %s", field)
		}
	default:
		return fmt.Errorf("unknown configuration section: %s", section)
	}
	return nil
}
