package dict

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/conorfennell/knolword/internal/logging"
)

const animals = `W: Cat
D: a small domesticated feline

an independent companion
R: img/cat.png
---
W: dog
D: a loyal <animal>
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestGlossaryLookup(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "animals.gloss"), animals)
	writeFile(t, filepath.Join(dir, "img", "cat.png"), "PNGDATA")

	g, err := Open(filepath.Join(dir, "animals.gloss"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if g.Name != "animals" || g.Len() != 2 {
		t.Fatalf("Expected glossary animals with 2 headwords, got %s with %d", g.Name, g.Len())
	}

	t.Run("case-insensitive hit with resources", func(t *testing.T) {
		e, ok, err := g.Lookup("cat")
		if err != nil || !ok {
			t.Fatalf("Expected cat to be found, got ok=%v err=%v", ok, err)
		}
		if e.Dictionary != "animals" {
			t.Errorf("Expected dictionary name animals, got %s", e.Dictionary)
		}
		want := "<p>a small domesticated feline</p><p>an independent companion</p>"
		if e.HTML != want {
			t.Errorf("Expected HTML %q, got %q", want, e.HTML)
		}
		if string(e.Resources["img/cat.png"]) != "PNGDATA" {
			t.Errorf("Expected cat.png resource, got %v", e.Resources)
		}
	})

	t.Run("definition is escaped", func(t *testing.T) {
		e, ok, err := g.Lookup("dog")
		if err != nil || !ok {
			t.Fatalf("Expected dog to be found, got ok=%v err=%v", ok, err)
		}
		if e.HTML != "<p>a loyal &lt;animal&gt;</p>" {
			t.Errorf("Unexpected HTML %q", e.HTML)
		}
	})

	t.Run("miss", func(t *testing.T) {
		if _, ok, err := g.Lookup("zebra"); ok || err != nil {
			t.Errorf("Expected a clean miss, got ok=%v err=%v", ok, err)
		}
	})
}

func TestGlossaryMissingResource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.gloss"), "W: ghost\nD: boo\nR: nowhere.png\n")

	g, err := Open(filepath.Join(dir, "broken.gloss"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, _, err := g.Lookup("ghost"); err == nil {
		t.Error("Expected error for a missing resource file")
	}
}

func TestGlossaryRejectsEscapingResource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sneaky.gloss"), "W: x\nD: y\nR: ../secret\n")

	g, err := Open(filepath.Join(dir, "sneaky.gloss"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, _, err := g.Lookup("x"); err == nil {
		t.Error("Expected error for a resource outside the dictionary directory")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b", "animals.gloss"), animals)
	writeFile(t, filepath.Join(dir, "a", "plants.GLOSS"), "W: fern\nD: a plant\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "W: nope\nD: not a dictionary\n")
	writeFile(t, filepath.Join(dir, ".git", "hidden.gloss"), "W: hidden\nD: skipped\n")

	glossaries, err := Load(dir, logging.Discard())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(glossaries) != 2 {
		t.Fatalf("Expected 2 glossaries, got %d", len(glossaries))
	}
	if glossaries[0].Name != "plants" || glossaries[1].Name != "animals" {
		t.Errorf("Expected path order [plants animals], got [%s %s]", glossaries[0].Name, glossaries[1].Name)
	}

	t.Run("missing dir", func(t *testing.T) {
		got, err := Load(filepath.Join(dir, "absent"), logging.Discard())
		if err != nil || len(got) != 0 {
			t.Errorf("Expected no glossaries and no error, got %d (%v)", len(got), err)
		}
	})
}

type stubDict struct {
	entry Entry
	found bool
	err   error
}

func (s stubDict) Lookup(string) (Entry, bool, error) {
	return s.entry, s.found, s.err
}

func TestMulti(t *testing.T) {
	boom := errors.New("corrupt index")
	m := Multi{
		stubDict{},
		stubDict{err: boom},
		stubDict{entry: Entry{Dictionary: "one"}, found: true},
		stubDict{entry: Entry{Dictionary: "two"}, found: true},
	}

	entries, err := m.LookupAll("word")
	if !errors.Is(err, boom) {
		t.Errorf("Expected joined dictionary error, got %v", err)
	}
	if len(entries) != 2 || entries[0].Dictionary != "one" || entries[1].Dictionary != "two" {
		t.Errorf("Expected entries from one and two, got %+v", entries)
	}
}

func TestResourcePath(t *testing.T) {
	if got := ResourcePath(0, "img/cat.png"); got != "0/img/cat.png" {
		t.Errorf("ResourcePath(0, img/cat.png) = %q", got)
	}
	if got := escapePath("1/sub dir/a#b.png"); got != "1/sub%20dir/a%23b.png" {
		t.Errorf("escapePath escaped to %q", got)
	}
}

func TestRender(t *testing.T) {
	entries := []Entry{
		{Dictionary: "animals", HTML: "<p>a feline</p>", Resources: map[string][]byte{"img/cat.png": nil, "notes.bin": nil}},
		{Dictionary: "<script>", HTML: "<p>second</p>", Resources: map[string][]byte{"img/cat.png": nil, "a b.png": nil}},
	}

	var buf bytes.Buffer
	if err := Render(&buf, "cat & co", entries, "/resources/abc/"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"<title>cat &amp; co</title>",
		"<p>a feline</p>",
		`<img src="/resources/abc/0/img/cat.png" alt="img/cat.png">`,
		`<a href="/resources/abc/0/notes.bin">notes.bin</a>`,
		`<img src="/resources/abc/1/img/cat.png" alt="img/cat.png">`,
		`<img src="/resources/abc/1/a%20b.png" alt="a b.png">`,
		"&lt;script&gt;",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := Render(&buf, "zebra", nil, "/resources/x"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "No dictionary knows this word.") {
		t.Errorf("Expected a not-found message, got:\n%s", buf.String())
	}
}
