package jira

import (
	"bytes"
	"encoding/json"
	"strings"
)

// adfNode is a node of an Atlassian Document Format tree.
type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

// descriptionText flattens the description field, which is a plain string in
// API v2 and an ADF document in v3.
func descriptionText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}

	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	return strings.TrimSpace(renderADF(doc)), nil
}

func renderADF(node adfNode) string {
	switch node.Type {
	case "text":
		return node.Text
	case "hardBreak":
		return "\n"
	}

	var b strings.Builder
	for _, child := range node.Content {
		b.WriteString(renderADF(child))
	}
	if isBlock(node.Type) {
		return strings.TrimRight(b.String(), "\n") + "\n\n"
	}
	return b.String()
}

func isBlock(nodeType string) bool {
	switch nodeType {
	case "paragraph", "heading", "codeBlock", "blockquote", "listItem", "rule", "panel":
		return true
	}
	return false
}
