// Package grouping partitions records by the calendar date they were
// created on and tracks which date group is expanded.
package grouping

import (
	"slices"
	"time"
)

// LabelLayout formats group labels; labels sort chronologically as text.
const LabelLayout = "2006-01-02"

type Dated interface {
	Created() time.Time
}

// Label returns the calendar date of t in loc.
func Label(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(LabelLayout)
}

// Groups is a partition of records by creation date. Within a group the
// input order is preserved; Labels lists the dates most recent first.
type Groups[T Dated] struct {
	Labels  []string
	ByLabel map[string][]T
}

func ByDate[T Dated](items []T, loc *time.Location) Groups[T] {
	g := Groups[T]{ByLabel: map[string][]T{}}
	for _, item := range items {
		label := Label(item.Created(), loc)
		if _, ok := g.ByLabel[label]; !ok {
			g.Labels = append(g.Labels, label)
		}
		g.ByLabel[label] = append(g.ByLabel[label], item)
	}
	slices.Sort(g.Labels)
	slices.Reverse(g.Labels)
	return g
}

// DefaultOpen is the date of the most recently created record, or "" when
// items is empty.
func DefaultOpen[T Dated](items []T, loc *time.Location) string {
	var latest time.Time
	found := false
	for _, item := range items {
		if c := item.Created(); !found || c.After(latest) {
			latest = c
			found = true
		}
	}
	if !found {
		return ""
	}
	return Label(latest, loc)
}

// Accordion holds the single open group. The zero value has nothing open.
// It is not safe for concurrent use.
type Accordion struct {
	open         string
	closedByUser bool
}

func (a *Accordion) Open() string {
	return a.open
}

func (a *Accordion) IsOpen(label string) bool {
	return label != "" && a.open == label
}

// Toggle opens a closed label or closes the open one, and returns the
// label that is open afterwards.
func (a *Accordion) Toggle(label string) string {
	if a.open == label {
		a.open = ""
		a.closedByUser = true
		return ""
	}
	a.open = label
	a.closedByUser = false
	return a.open
}

// Sync reconciles the open label with the current labels: an open label
// that still exists stays open, otherwise def is opened unless the user
// closed every group.
func (a *Accordion) Sync(labels []string, def string) string {
	if a.open != "" && slices.Contains(labels, a.open) {
		return a.open
	}
	if a.open == "" && a.closedByUser {
		return ""
	}
	a.open = def
	a.closedByUser = false
	return a.open
}
