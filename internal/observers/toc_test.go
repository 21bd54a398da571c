package observers

import (
	"strings"
	"testing"

	"github.com/starford/ansuz/internal/event"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/observer"
)

func TestTocInsertedAfterTitle(t *testing.T) {
	d, rt := Toc()
	body := "# Title\n\n## First\n\ntext\n\n## Second\n\nmore\n"
	note := &models.Note{Path: "n.md", Body: body}

	res := invoke(t, d, rt, noteEvent(event.Updated, note))
	if res.Status != observer.Modified || res.Content == nil {
		t.Fatalf("res = %+v", res)
	}
	got := *res.Content
	if !strings.Contains(got, "## Contents") {
		t.Fatalf("no Contents section in %q", got)
	}
	if !strings.Contains(got, "* [First](#first)") || !strings.Contains(got, "* [Second](#second)") {
		t.Errorf("toc entries missing:\n%s", got)
	}
	if strings.Index(got, "## Contents") > strings.Index(got, "## First") {
		t.Error("Contents section must precede the first heading")
	}
}

func TestTocIdempotent(t *testing.T) {
	d, rt := Toc()
	body := "# Title\n\n## First\n\ntext\n"
	note := &models.Note{Path: "n.md", Body: body}

	res := invoke(t, d, rt, noteEvent(event.Updated, note))
	if res.Content == nil {
		t.Fatal("expected rebuild")
	}

	again := invoke(t, d, rt, noteEvent(event.Synced, &models.Note{Path: "n.md", Body: *res.Content}))
	if again.Status != observer.Unchanged {
		t.Errorf("second pass must converge, got %+v content=%q", again.Status, *again.Content)
	}
}

func TestTocReplacesStaleSection(t *testing.T) {
	d, rt := Toc()
	body := "# Title\n\n## Contents\n\n* [Old](#old)\n\n## Fresh\n\ntext\n"
	note := &models.Note{Path: "n.md", Body: body}

	res := invoke(t, d, rt, noteEvent(event.Updated, note))
	if res.Content == nil {
		t.Fatal("expected rebuild")
	}
	got := *res.Content
	if strings.Contains(got, "[Old]") {
		t.Errorf("stale entry survived:\n%s", got)
	}
	if !strings.Contains(got, "* [Fresh](#fresh)") {
		t.Errorf("fresh entry missing:\n%s", got)
	}
	if strings.Count(got, "## Contents") != 1 {
		t.Errorf("duplicate Contents sections:\n%s", got)
	}
}

func TestTocLeavesHeadinglessBodyAlone(t *testing.T) {
	d, rt := Toc()
	note := &models.Note{Path: "n.md", Body: "just prose, no headings\n"}
	res := invoke(t, d, rt, noteEvent(event.Updated, note))
	if res.Status != observer.Unchanged {
		t.Errorf("res = %+v", res)
	}
}

func TestTocIgnoresFencedPseudoHeadings(t *testing.T) {
	d, rt := Toc()
	body := "# Title\n\n## Real\n\n```sh\n# not a heading\n## also not\n```\n"
	note := &models.Note{Path: "n.md", Body: body}

	res := invoke(t, d, rt, noteEvent(event.Updated, note))
	if res.Content == nil {
		t.Fatal("expected rebuild")
	}
	if strings.Contains(*res.Content, "not a heading](") {
		t.Errorf("fenced line indexed:\n%s", *res.Content)
	}
}

func TestAnchorFor(t *testing.T) {
	cases := map[string]string{
		"Simple":           "simple",
		"Two Words":        "two-words",
		"With 123 Numbers": "with-123-numbers",
		"Dots.And,Commas":  "dotsandcommas",
	}
	for in, want := range cases {
		if got := anchorFor(in); got != want {
			t.Errorf("anchorFor(%q) = %q, want %q", in, got, want)
		}
	}
}
