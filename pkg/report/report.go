// pkg/report/report.go
package report

import (
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/epd-ingress/pkg/measures"
	"github.com/David-Botos/epd-ingress/pkg/model"
	"github.com/David-Botos/epd-ingress/pkg/novelty"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Report file naming
const (
	MonthlyPrefix = "monthly_report_"
	TestPrefix    = "monthly_test_report_"
	MonthlyIndex  = "list_reports.html"
	TestIndex     = "list_test_reports.html"
)

const januaryNoticeURL = "https://www.nhsbsa.nhs.uk/bnf-code-changes-january-%d"

// DefaultDefinitionsURL is where measure definitions are browsed
const DefaultDefinitionsURL = "https://github.com/ebmdatalab/openprescribing/tree/main/openprescribing/measures/definitions/"

// Writer renders HTML reports into a directory
type Writer struct {
	dir            string
	previewBaseURL string
	definitionsURL string
	logger         *zap.Logger
	monthly        *template.Template
	test           *template.Template
	index          *template.Template
}

// NewWriter parses the embedded templates. Links to reports are formed as
// previewBaseURL + file name.
func NewWriter(dir, previewBaseURL string, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Writer{
		dir:            dir,
		previewBaseURL: previewBaseURL,
		definitionsURL: DefaultDefinitionsURL,
		logger:         logger,
	}

	funcs := template.FuncMap{
		"join": strings.Join,
		"definitionURL": func(fileName string) string {
			return strings.TrimRight(w.definitionsURL, "/") + "/" + fileName
		},
	}

	var err error
	if w.monthly, err = parse(funcs, "monthly_report.html.tmpl"); err != nil {
		return nil, err
	}
	if w.test, err = parse(funcs, "test_report.html.tmpl"); err != nil {
		return nil, err
	}
	if w.index, err = parse(funcs, "index.html.tmpl"); err != nil {
		return nil, err
	}
	return w, nil
}

// WithDefinitionsURL sets the base used to link measure definitions
func (w *Writer) WithDefinitionsURL(url string) *Writer {
	w.definitionsURL = url
	return w
}

// Dir returns the output directory
func (w *Writer) Dir() string {
	return w.dir
}

func parse(funcs template.FuncMap, name string) (*template.Template, error) {
	t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/style.html.tmpl", "templates/"+name)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	return t, nil
}

type page struct {
	Label      string
	From       string
	January    bool
	JanuaryURL string
	IndexURL   string
}

func (w *Writer) newPage(latest, from model.Period, index string) page {
	p := page{
		Label:    latest.Label(),
		From:     monthTitle(from),
		IndexURL: w.previewBaseURL + index,
	}
	if latest.Month == 1 {
		p.January = true
		p.JanuaryURL = fmt.Sprintf(januaryNoticeURL, latest.Year)
	}
	return p
}

// WriteMonthly renders monthly_report_<YYYY-MM>.html and returns its path
func (w *Writer) WriteMonthly(latest, from model.Period, diff novelty.Report, exclusions []string) (string, error) {
	data := struct {
		page
		Exclusions  []string
		NewChemSubs []model.Row
		NewCodes    []model.Row
		NewDescOnly []model.Row
	}{
		page:        w.newPage(latest, from, MonthlyIndex),
		Exclusions:  exclusions,
		NewChemSubs: diff.NewChemSubs,
		NewCodes:    diff.NewCodes,
		NewDescOnly: diff.NewDescOnly,
	}
	return w.render(w.monthly, MonthlyPrefix+latest.Label()+".html", data)
}

// WriteTestReport renders monthly_test_report_<YYYY-MM>.html and returns its path
func (w *Writer) WriteTestReport(latest, from model.Period, results *measures.Results) (string, error) {
	data := struct {
		page
		Results *measures.Results
	}{
		page:    w.newPage(latest, from, TestIndex),
		Results: results,
	}
	return w.render(w.test, TestPrefix+latest.Label()+".html", data)
}

// WriteIndexes regenerates both index pages from the reports on disk
func (w *Writer) WriteIndexes() ([]string, error) {
	monthly, err := listReports(w.dir, MonthlyPrefix)
	if err != nil {
		return nil, err
	}
	tests, err := listReports(w.dir, TestPrefix)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, idx := range []struct {
		file    string
		title   string
		entries []string
	}{
		{MonthlyIndex, "English Prescribing Data - Monthly New Items Reports", monthly},
		{TestIndex, "English Prescribing Data - Monthly Test Reports", tests},
	} {
		path, err := w.render(w.index, idx.file, struct {
			Title   string
			Entries []indexEntry
		}{idx.title, w.indexEntries(idx.entries)})
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

type indexEntry struct {
	Title string
	URL   string
}

func (w *Writer) indexEntries(files []string) []indexEntry {
	entries := make([]indexEntry, 0, len(files))
	for _, f := range files {
		title := reportLabel(f)
		if p, err := model.ParseLabel(title); err == nil {
			title = monthTitle(p)
		}
		entries = append(entries, indexEntry{Title: title, URL: w.previewBaseURL + f})
	}
	return entries
}

// render executes t into dir/name through a temporary file
func (w *Writer) render(t *template.Template, name string, data interface{}) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}

	path := filepath.Join(w.dir, name)
	tmp, err := os.CreateTemp(w.dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := t.Execute(tmp, data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: failed to render %s: %w", model.ErrTemplate, name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("failed to set permissions on %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move %s into place: %w", name, err)
	}

	w.logger.Info("Report written", zap.String("path", path))
	return path, nil
}

// listReports returns report files with prefix, ordered by their date suffix
func listReports(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".html") || !strings.HasPrefix(name, prefix) {
			continue
		}
		files = append(files, name)
	}

	sort.SliceStable(files, func(i, j int) bool {
		return reportLabel(files[i]) < reportLabel(files[j])
	})
	return files, nil
}

// reportLabel extracts the YYYY-MM suffix of a report file name
func reportLabel(name string) string {
	name = strings.TrimSuffix(name, ".html")
	if i := strings.LastIndex(name, "_"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// monthTitle formats a period as "January 2024"
func monthTitle(p model.Period) string {
	if p.IsZero() {
		return ""
	}
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC).Format("January 2006")
}

// LatestReportLabel returns the YYYY-MM label of the newest monthly report
// in dir, or "" when there is none
func LatestReportLabel(dir string) (string, error) {
	files, err := listReports(dir, MonthlyPrefix)
	if err != nil {
		return "", err
	}

	latest := ""
	for _, f := range files {
		label := reportLabel(f)
		if _, err := model.ParseLabel(label); err != nil {
			continue
		}
		if label > latest {
			latest = label
		}
	}
	return latest, nil
}

// RewriteBaseURL replaces oldURL with newURL in every file of dir and
// returns the number of files changed
func RewriteBaseURL(dir, oldURL, newURL string) (int, error) {
	if oldURL == "" {
		return 0, fmt.Errorf("%w: old base url must not be empty", model.ErrConfiguration)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list reports: %w", err)
	}

	changed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return changed, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}

		updated := strings.ReplaceAll(string(content), oldURL, newURL)
		if updated == string(content) {
			continue
		}
		if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
			return changed, fmt.Errorf("failed to write %s: %w", e.Name(), err)
		}
		changed++
	}
	return changed, nil
}
