package templateutil

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"path"
)

// LayoutName is the template every page is rendered through. Pages fill in
// its "content" block.
const LayoutName = "layout.html"

// Pages holds one parsed template set per page: the layout plus that page's
// own definitions, so pages can reuse block names without clashing.
type Pages struct {
	sets map[string]*template.Template
}

// ParsePages parses every *.html file in dir of fsys as a page on top of
// dir/layout.html.
func ParsePages(fsys fs.FS, dir string) (*Pages, error) {
	layoutPath := path.Join(dir, LayoutName)
	base, err := template.New(LayoutName).Funcs(FuncMap()).ParseFS(fsys, layoutPath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}

	files, err := fs.Glob(fsys, path.Join(dir, "*.html"))
	if err != nil {
		return nil, err
	}

	p := &Pages{sets: make(map[string]*template.Template, len(files))}
	for _, file := range files {
		name := path.Base(file)
		if name == LayoutName {
			continue
		}
		set, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := set.ParseFS(fsys, file); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		p.sets[name] = set
	}
	return p, nil
}

// Has reports whether page was parsed.
func (p *Pages) Has(page string) bool {
	_, ok := p.sets[page]
	return ok
}

// Render executes page into w. Output is buffered, so nothing is written
// when execution fails.
func (p *Pages) Render(w io.Writer, page string, data any) error {
	set, ok := p.sets[page]
	if !ok {
		return fmt.Errorf("unknown page %q", page)
	}
	var buf bytes.Buffer
	if err := set.ExecuteTemplate(&buf, LayoutName, data); err != nil {
		return fmt.Errorf("failed to render %s: %w", page, err)
	}
	_, err := buf.WriteTo(w)
	return err
}
