package executors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/taskrunner/internal/executor"
	"github.com/ternarybob/taskrunner/internal/journal"
)

// ExtractName is the journal key under which the markdown extraction
// step stores its patch and status.
const ExtractName = "extract"

// extract reads a prior scraper step's scratch file, narrows it to a
// selector (defaulting to the whole document), and converts it to
// markdown, writing the result to "<key>.md". It depends on the scraper
// step having already run for the task.
type extract struct {
	selector string
}

// Extract builds the markdown extraction executor. selector is the
// goquery selector narrowing the scraped document before conversion;
// "" converts the whole body.
func Extract(selector string) executor.Executor {
	return &extract{selector: selector}
}

func (e *extract) Name() string { return ExtractName }

func (e *extract) Run(ctx context.Context, rc *executor.Context, key string, status journal.StatusData) (interface{}, bool, error) {
	// A scraper step that succeeded on an earlier run reads SKIPPED here.
	if s := journal.ExecutorStatus(status, ScraperName); s != journal.StatusSuccess && s != journal.StatusSkipped {
		return nil, false, executor.NewRuntimeError("extract requires a successful scraper step")
	}

	html, err := os.ReadFile(scratchFile(rc.Dir, key))
	if err != nil {
		return nil, false, fmt.Errorf("read scrape scratch file: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(html)))
	if err != nil {
		return nil, false, executor.NewRuntimeError("parse HTML: %v", err)
	}

	selection := doc.Selection
	if e.selector != "" {
		selection = doc.Find(e.selector)
		if selection.Length() == 0 {
			return nil, false, executor.NewRuntimeError("selector %q matched nothing", e.selector)
		}
	}

	fragment, err := goquery.OuterHtml(selection)
	if err != nil {
		return nil, false, fmt.Errorf("serialize selection: %w", err)
	}

	params := journal.Params(status)
	rawURL, _ := params["url"].(string)
	converter := md.NewConverter(rawURL, true, nil)
	markdown, err := converter.ConvertString(fragment)
	if err != nil {
		return nil, false, executor.NewRuntimeError("convert to markdown: %v", err)
	}

	outPath := filepath.Join(rc.Dir, key+".md")
	if err := os.WriteFile(outPath, []byte(markdown), 0644); err != nil {
		return nil, false, fmt.Errorf("write markdown file: %w", err)
	}

	patch := map[string]interface{}{
		"title":           pageTitle(doc),
		"markdown_length": len(markdown),
	}
	return patch, true, nil
}

// pageTitle returns the document's <title> text, falling back to the
// first <h1> when no title element is present, and "" when neither is.
func pageTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}
