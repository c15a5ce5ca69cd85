package models

type PullRequest struct {
	Number int    `json:"number" yaml:"number"`
	Title  string `json:"title" yaml:"title"`
	Body   string `json:"body" yaml:"body"`
	URL    string `json:"url" yaml:"url"`
}
