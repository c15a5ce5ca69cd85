// Package prdesc renders ticket blocks for pull request descriptions and
// decides how an existing description is updated.
package prdesc

import (
	"fmt"
	"strings"

	"github.com/Ilia01/jira2pr/internal/models"
)

// Sentinel opens every rendered block. Pull requests updated by earlier runs
// are recognized by this exact line, so it must not change.
const Sentinel = "### ---- 🤖 TicketBot 🤖 ----"

// Format renders ticket as a markdown block. Simple mode leaves out the
// description section.
func Format(ticket models.Ticket, simple bool) string {
	var b strings.Builder
	b.WriteString(Sentinel + "\n")
	b.WriteString("#### 🎫 Ticket\n")
	b.WriteString(fmt.Sprintf("[%s](%s) - %s\n\n", ticket.ID, ticket.URL, ticket.Summary))

	if !simple && strings.TrimSpace(ticket.Description) != "" {
		b.WriteString(fmt.Sprintf("#### 📝 Description\n\n%s\n\n", ticket.Description))
	}
	return b.String()
}

// HasBlock reports whether body already carries a rendered block.
func HasBlock(body string) bool {
	return strings.Contains(body, Sentinel)
}
