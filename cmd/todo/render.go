package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/tasklists/project/internal/app/tasks"
	"github.com/tasklists/project/internal/model"
)

var (
	colorBlue  = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	colorGreen = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	colorRed   = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	colorGray  = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	colorWhite = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorWhite)
	groupStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorBlue)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorGray)
	successStyle = lipgloss.NewStyle().Foreground(colorGreen)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	doneStyle    = lipgloss.NewStyle().Foreground(colorGray).Strikethrough(true)
	entryStyle   = lipgloss.NewStyle().PaddingLeft(2)
)

const shortIDLen = 8

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

func renderEntry(e tasks.Entry) string {
	box, title := "[ ]", e.Title
	if e.Done {
		box, title = "[x]", doneStyle.Render(e.Title)
	}
	return fmt.Sprintf("%s %s %s", box, title, mutedStyle.Render(shortID(e.ID)))
}

// renderBoard prints the open date group expanded and the others folded,
// or every group expanded when all is set.
func renderBoard(w io.Writer, b tasks.Board, all bool) {
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render(b.Name), mutedStyle.Render(fmt.Sprintf("%d of %d open", b.Remaining, b.Total)))
	if b.Error != "" {
		fmt.Fprintln(w, errorStyle.Render("load failed: ")+b.Error)
	}
	if len(b.Groups) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("Nothing here yet"))
		return
	}
	for _, g := range b.Groups {
		expanded := all || g.Open
		marker := "▸"
		if expanded {
			marker = "▾"
		}
		fmt.Fprintf(w, "%s %s %s\n", marker, groupStyle.Render(g.Label), mutedStyle.Render(fmt.Sprintf("(%d)", len(g.Entries))))
		if !expanded {
			continue
		}
		for _, e := range g.Entries {
			fmt.Fprintln(w, entryStyle.Render(renderEntry(e)))
		}
	}
}

func renderLists(w io.Writer, lists []model.SharedList, userID string) {
	if len(lists) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No shared lists"))
		return
	}
	for _, l := range lists {
		role := "member"
		if l.OwnerID == userID {
			role = "owner"
		}
		fmt.Fprintf(w, "%s %s %s\n", titleStyle.Render(l.Title), mutedStyle.Render(l.ID), mutedStyle.Render("("+role+")"))
	}
}

func renderCollaborators(w io.Writer, collaborators []model.Collaborator) {
	if len(collaborators) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No collaborators"))
		return
	}
	for _, c := range collaborators {
		name := "unknown"
		if c.Profile != nil {
			name = c.Profile.DisplayName()
		}
		line := name
		if email := c.Email(); email != "" && email != name {
			line += " " + mutedStyle.Render("<"+email+">")
		}
		fmt.Fprintln(w, entryStyle.Render(line+" "+mutedStyle.Render(c.Role)))
	}
}

func renderNotifications(w io.Writer, items []model.Notification, unread int) {
	renderUnread(w, unread)
	for _, n := range items {
		marker := "•"
		msg := n.Message()
		if n.IsRead {
			marker = " "
			msg = mutedStyle.Render(msg)
		}
		fmt.Fprintf(w, "%s %s %s\n", marker, msg, mutedStyle.Render(n.ID))
	}
}

func renderUnread(w io.Writer, unread int) {
	switch unread {
	case 0:
		fmt.Fprintln(w, mutedStyle.Render("No unread invitations"))
	case 1:
		fmt.Fprintln(w, groupStyle.Render("1 unread invitation"))
	default:
		fmt.Fprintln(w, groupStyle.Render(fmt.Sprintf("%d unread invitations", unread)))
	}
}
