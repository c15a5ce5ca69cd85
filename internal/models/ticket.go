package models

import "encoding/json"

// JiraIssue is the subset of the Jira issue payload we read.
type JiraIssue struct {
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

// IssueFields holds the issue fields. Description is kept raw because API v2
// returns a string while v3 returns an Atlassian Document Format tree.
type IssueFields struct {
	Summary     string          `json:"summary"`
	Description json.RawMessage `json:"description"`
	Status      TicketStatus    `json:"status"`
	Assignee    *TicketUser     `json:"assignee"`
}

type TicketStatus struct {
	Name string `json:"name"`
}

type TicketUser struct {
	DisplayName string `json:"displayName"`
}

// Ticket is the normalized record rendered into pull requests.
type Ticket struct {
	ID          string `json:"id" yaml:"id"`
	URL         string `json:"url" yaml:"url"`
	Summary     string `json:"summary" yaml:"summary"`
	Description string `json:"description" yaml:"description"`
	Status      string `json:"status,omitempty" yaml:"status,omitempty"`
}
