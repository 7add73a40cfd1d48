// pkg/measures/source.go
package measures

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// File is a raw definition file
type File struct {
	Name string
	Data []byte
}

// Source lists and reads measure definition files
type Source interface {
	Files(ctx context.Context) ([]File, error)
}

// LocalSource reads *.json definitions from a directory
type LocalSource struct {
	Dir string
}

// Files returns every .json file in the directory, sorted by name
func (s LocalSource) Files(ctx context.Context) ([]File, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read measures folder: %w", err)
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(s.Dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		files = append(files, File{Name: entry.Name(), Data: data})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// GitHubSource scrapes a repository directory listing for .json links and
// reads each file from the raw content host
type GitHubSource struct {
	ListingURL string
	RawBaseURL string
	client     *http.Client
	logger     *zap.Logger
}

// NewGitHubSource creates a source with the given request timeout
func NewGitHubSource(listingURL, rawBaseURL string, timeout time.Duration, logger *zap.Logger) *GitHubSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitHubSource{
		ListingURL: listingURL,
		RawBaseURL: rawBaseURL,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Files fetches every listed definition. A file that cannot be fetched is
// logged and skipped; a listing failure is returned.
func (s *GitHubSource) Files(ctx context.Context) ([]File, error) {
	listing, err := s.get(ctx, s.ListingURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}

	names, err := jsonLinks(listing)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Found measure definitions", zap.Int("count", len(names)))

	files := make([]File, 0, len(names))
	for _, name := range names {
		data, err := s.get(ctx, strings.TrimRight(s.RawBaseURL, "/")+"/"+url.PathEscape(name))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("Failed to fetch measure definition",
				zap.String("file", name),
				zap.Error(err))
			continue
		}
		files = append(files, File{Name: name, Data: data})
	}
	return files, nil
}

func (s *GitHubSource) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// jsonLinks extracts the distinct file names of anchors ending in .json
func jsonLinks(page []byte) ([]string, error) {
	doc, err := html.Parse(strings.NewReader(string(page)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	seen := make(map[string]struct{})
	var names []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" || !strings.HasSuffix(attr.Val, ".json") {
					continue
				}
				name := path.Base(attr.Val)
				if _, ok := seen[name]; !ok {
					seen[name] = struct{}{}
					names = append(names, name)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(doc)
	return names, nil
}

// Load reads and classifies every definition from src. Invalid definitions
// flagged for testing are logged and left out.
func Load(ctx context.Context, src Source, logger *zap.Logger) (*Definitions, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	files, err := src.Files(ctx)
	if err != nil {
		return nil, err
	}

	defs := &Definitions{}
	for _, f := range files {
		def, err := ParseDefinition(f.Name, f.Data)
		if err != nil {
			logger.Error("Skipping measure definition",
				zap.String("file", f.Name),
				zap.Error(err))
			continue
		}
		defs.Add(def)
	}

	logger.Info("Loaded measure definitions",
		zap.Int("active", len(defs.Active)),
		zap.Int("disabled", len(defs.Disabled)),
		zap.Int("unflagged", len(defs.Unflagged)))

	return defs, nil
}
