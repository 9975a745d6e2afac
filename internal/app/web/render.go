package web

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/a-h/templ"
	"github.com/tasklists/project/internal/app/tasks"
)

// BoardView renders a board as the #board fragment patched by /events.
func BoardView(b tasks.Board) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<section id="board" data-view="%s" data-state="%s">`,
			templ.EscapeString(b.Name), templ.EscapeString(b.State)); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, `<header><span class="remaining">%d of %d left</span></header>`, b.Remaining, b.Total); err != nil {
			return err
		}
		if b.Error != "" {
			if _, err := fmt.Fprintf(w, `<p class="error">%s</p>`, templ.EscapeString(b.Error)); err != nil {
				return err
			}
		}
		if len(b.Groups) == 0 {
			_, err := io.WriteString(w, `<p class="empty">Nothing here yet.</p></section>`)
			return err
		}
		for _, g := range b.Groups {
			if err := groupView(g).Render(ctx, w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</section>`)
		return err
	})
}

func groupView(g tasks.Group) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		open := ""
		if g.Open {
			open = " open"
		}
		if _, err := fmt.Fprintf(w, `<details data-date="%s"%s><summary>%s <small>(%d)</small></summary><ul>`,
			templ.EscapeString(g.Label), open, templ.EscapeString(g.Label), len(g.Entries)); err != nil {
			return err
		}
		for _, e := range g.Entries {
			checked := ""
			if e.Done {
				checked = " checked"
			}
			if _, err := fmt.Fprintf(w, `<li data-id="%s"><input type="checkbox"%s> <span>%s</span></li>`,
				templ.EscapeString(e.ID), checked, templ.EscapeString(e.Title)); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</ul></details>`)
		return err
	})
}

func indexPage() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Task lists</title></head>
<body>
<main>
<h1>Task lists</h1>
<section id="board"><p class="empty">Connect to /events?view=todos&amp;token=... to stream your board.</p></section>
</main>
</body>
</html>`)
		return err
	})
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	templ.Handler(indexPage()).ServeHTTP(w, r)
}
