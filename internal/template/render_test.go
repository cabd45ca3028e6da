package template

import (
	"testing"

	"github.com/preset-io/agor-sub001/internal/domain"
)

func TestRenderNestedMaps(t *testing.T) {
	t.Parallel()
	ctx := map[string]any{
		"worktree": map[string]any{"name": "feature-x", "path": "/srv/wt/feature-x"},
		"repo":     map[string]any{"slug": "agor"},
	}
	got := Render("cd {{worktree.path}} && echo {{repo.slug}}/{{worktree.name}}", ctx)
	want := "cd /srv/wt/feature-x && echo agor/feature-x"
	if got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}
}

func TestRenderStructContext(t *testing.T) {
	t.Parallel()
	ctx := map[string]any{
		"schedule": &domain.ScheduleConfig{Model: "opus", Retention: 3},
	}
	if got := Render("model={{schedule.model}} keep={{schedule.retention}}", ctx); got != "model=opus keep=3" {
		t.Fatalf("Render = %q", got)
	}
}

func TestRenderUnresolvedLeftIntact(t *testing.T) {
	t.Parallel()
	tmpl := "hello {{missing.key}} world"
	if got := Render(tmpl, map[string]any{}); got != tmpl {
		t.Fatalf("Render = %q, want raw template", got)
	}
}

func TestRenderNeverErrors(t *testing.T) {
	t.Parallel()
	// nil context, nil values, weird placeholders: always a string back.
	cases := []string{
		"",
		"no placeholders",
		"{{}}",
		"{{a.b.c.d.e}}",
		"{{worktree}}",
	}
	for _, tmpl := range cases {
		got := Render(tmpl, nil)
		if tmpl != "" && got == "" {
			t.Fatalf("Render(%q) returned empty string", tmpl)
		}
	}
}

func TestRenderWhitespaceInsidePlaceholder(t *testing.T) {
	t.Parallel()
	ctx := map[string]any{"worktree": map[string]any{"ref": "main"}}
	if got := Render("ref={{ worktree.ref }}", ctx); got != "ref=main" {
		t.Fatalf("Render = %q", got)
	}
}

func TestUnresolved(t *testing.T) {
	t.Parallel()
	ctx := map[string]any{"a": map[string]any{"b": "x"}}
	missing := Unresolved("{{a.b}} {{a.c}} {{d}}", ctx)
	if len(missing) != 2 || missing[0] != "a.c" || missing[1] != "d" {
		t.Fatalf("Unresolved = %v", missing)
	}
}
