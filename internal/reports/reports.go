// Package reports browses the statistics tree produced while training the
// model: nested section directories holding a caption, chart pages, images
// and JSON statistics.
package reports

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gomarkdown/markdown"
	mhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// URLPrefix is where the stats directory is served as static files.
const URLPrefix = "/stats/"

const captionFile = "caption.txt"

var (
	ErrNoReports       = errors.New("no reports available")
	ErrSectionNotFound = errors.New("report section not found")
)

// Section lists the files of one report directory as URLs under URLPrefix.
type Section struct {
	Name      string   `json:"name"`
	Caption   string   `json:"caption,omitempty"`
	HTMLFiles []string `json:"html_files"`
	JSONFiles []string `json:"json_files"`
	Images    []string `json:"images"`
}

// SectionDetail is a section with its caption rendered and its JSON
// documents embedded. Files that do not hold valid JSON are listed in
// Invalid.
type SectionDetail struct {
	Section
	CaptionHTML string                     `json:"caption_html,omitempty"`
	Documents   map[string]json.RawMessage `json:"documents"`
	Invalid     []string                   `json:"invalid_documents,omitempty"`
}

// Browser reads sections from a stats directory on every call, so reports
// regenerated on disk show up without a restart.
type Browser struct {
	dir string
}

func New(dir string) *Browser {
	return &Browser{dir: dir}
}

// Dir is the stats directory.
func (b *Browser) Dir() string {
	return b.dir
}

// Sections walks the stats tree and returns every directory that holds
// report files, ordered by name.
func (b *Browser) Sections() ([]Section, error) {
	info, err := os.Stat(b.dir)
	if err != nil || !info.IsDir() {
		return nil, ErrNoReports
	}

	var sections []Section
	err = filepath.WalkDir(b.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || p == b.dir {
			return nil
		}
		rel, err := filepath.Rel(b.dir, p)
		if err != nil {
			return err
		}
		sec, err := b.scan(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		if sec != nil {
			sections = append(sections, *sec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read reports: %w", err)
	}
	sort.Slice(sections, func(i, j int) bool { return sections[i].Name < sections[j].Name })
	return sections, nil
}

// Section returns one section by its slash separated name, e.g. "cap 2/cap 1".
func (b *Browser) Section(name string) (*SectionDetail, error) {
	name = strings.Trim(path.Clean("/"+name), "/")
	if name == "" {
		return nil, ErrSectionNotFound
	}
	sec, err := b.scan(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrSectionNotFound
		}
		return nil, err
	}
	if sec == nil {
		return nil, ErrSectionNotFound
	}

	detail := &SectionDetail{Section: *sec, Documents: make(map[string]json.RawMessage)}
	if sec.Caption != "" {
		detail.CaptionHTML = mdToHTML([]byte(sec.Caption))
	}
	dir := filepath.Join(b.dir, filepath.FromSlash(name))
	for _, u := range sec.JSONFiles {
		fname := path.Base(u)
		if unescaped, err := url.PathUnescape(fname); err == nil {
			fname = unescaped
		}
		data, err := os.ReadFile(filepath.Join(dir, fname))
		if err != nil || !json.Valid(data) {
			detail.Invalid = append(detail.Invalid, fname)
			continue
		}
		detail.Documents[fname] = json.RawMessage(data)
	}
	return detail, nil
}

// scan lists the report files of the directory rel. It returns nil when the
// directory holds none.
func (b *Browser) scan(rel string) (*Section, error) {
	dir := filepath.Join(b.dir, filepath.FromSlash(rel))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	sec := Section{Name: rel, HTMLFiles: []string{}, JSONFiles: []string{}, Images: []string{}}
	found := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch strings.ToLower(filepath.Ext(name)) {
		case ".txt":
			if name != captionFile {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				return nil, err
			}
			sec.Caption = strings.TrimSpace(string(data))
		case ".html", ".htm":
			sec.HTMLFiles = append(sec.HTMLFiles, fileURL(rel, name))
		case ".json":
			sec.JSONFiles = append(sec.JSONFiles, fileURL(rel, name))
		case ".png", ".jpg", ".jpeg", ".gif", ".svg":
			sec.Images = append(sec.Images, fileURL(rel, name))
		default:
			continue
		}
		found = true
	}
	if !found {
		return nil, nil
	}
	return &sec, nil
}

func fileURL(rel, name string) string {
	var parts []string
	for _, p := range strings.Split(rel, "/") {
		parts = append(parts, url.PathEscape(p))
	}
	parts = append(parts, url.PathEscape(name))
	return URLPrefix + strings.Join(parts, "/")
}

// mdToHTML renders a Markdown caption to HTML.
func mdToHTML(md []byte) string {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse(md)

	htmlFlags := mhtml.CommonFlags | mhtml.HrefTargetBlank
	renderer := mhtml.NewRenderer(mhtml.RendererOptions{Flags: htmlFlags})
	return string(markdown.Render(doc, renderer))
}
