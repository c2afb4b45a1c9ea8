package dict

import (
	"html"
	"html/template"
	"io"
	"mime"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
)

// definitionHTML escapes a record's definition. Blank lines separate
// paragraphs; other line breaks are kept.
func definitionHTML(rec Record) string {
	if rec.Definition == "" {
		return ""
	}
	var sb strings.Builder
	for _, para := range strings.Split(rec.Definition, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		lines := strings.Split(para, "\n")
		for i, l := range lines {
			lines[i] = html.EscapeString(l)
		}
		sb.WriteString("<p>")
		sb.WriteString(strings.Join(lines, "<br>"))
		sb.WriteString("</p>")
	}
	return sb.String()
}

type resourceView struct {
	Name string
	URL  string
	Kind string
}

type entryView struct {
	Dictionary string
	HTML       template.HTML
	Resources  []resourceView
}

type pageView struct {
	Key     string
	Entries []entryView
}

var pageTemplate = template.Must(template.New("entry").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{.Key}}</title>
  <style>
    body { font-family: sans-serif; margin: 0 auto; max-width: 48em; padding: 1em; }
    nav button { margin-right: .5em; }
    section { border-top: 1px solid #ddd; padding: .5em 0; }
    img { max-width: 100%; }
    .missing { color: #888; }
  </style>
</head>
<body>
  <h1>{{.Key}}</h1>
  {{- if gt (len .Entries) 1}}
  <nav>{{range $i, $e := .Entries}}<button onclick="document.getElementById('entry-{{$i}}').scrollIntoView()">{{$e.Dictionary}}</button>{{end}}</nav>
  {{- end}}
  {{- range $i, $e := .Entries}}
  <section id="entry-{{$i}}">
    <h2>{{$e.Dictionary}}</h2>
    <div class="definition">{{$e.HTML}}</div>
    {{- range $e.Resources}}
    {{- if eq .Kind "image"}}
    <img src="{{.URL}}" alt="{{.Name}}">
    {{- else if eq .Kind "audio"}}
    <audio controls src="{{.URL}}"></audio>
    {{- else}}
    <a href="{{.URL}}">{{.Name}}</a>
    {{- end}}
    {{- end}}
  </section>
  {{- else}}
  <p class="missing">No dictionary knows this word.</p>
  {{- end}}
</body>
</html>
`))

// Render writes an HTML page showing every entry for key. Resource links point
// to resourceBase joined with ResourcePath.
func Render(w io.Writer, key string, entries []Entry, resourceBase string) error {
	view := pageView{Key: key}
	for i, e := range entries {
		ev := entryView{
			Dictionary: e.Dictionary,
			// Definitions are escaped by definitionHTML.
			HTML: template.HTML(e.HTML),
		}
		names := make([]string, 0, len(e.Resources))
		for name := range e.Resources {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ev.Resources = append(ev.Resources, resourceView{
				Name: name,
				URL:  strings.TrimRight(resourceBase, "/") + "/" + escapePath(ResourcePath(i, name)),
				Kind: resourceKind(name),
			})
		}
		view.Entries = append(view.Entries, ev)
	}
	return pageTemplate.Execute(w, view)
}

// ResourcePath is the slash-separated location of resource name of the
// entry at index entry. Each entry gets its own directory, so two dictionaries
// shipping the same file name do not collide.
func ResourcePath(entry int, name string) string {
	return strconv.Itoa(entry) + "/" + name
}

func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

func resourceKind(name string) string {
	ct := mime.TypeByExtension(path.Ext(name))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return "image"
	case strings.HasPrefix(ct, "audio/"):
		return "audio"
	default:
		return "file"
	}
}

// ContentType guesses the media type of a resource from its name.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
