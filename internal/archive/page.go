package archive

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Selectors locates the archive form controls and result grid.
type Selectors struct {
	StartDate   string `mapstructure:"start_date"`
	EndDate     string `mapstructure:"end_date"`
	Fetch       string `mapstructure:"fetch"`
	Table       string `mapstructure:"table"`
	Rows        string `mapstructure:"rows"`
	Cells       string `mapstructure:"cells"`
	CurrentPage string `mapstructure:"current_page"`
	TotalPages  string `mapstructure:"total_pages"`
	NextPage    string `mapstructure:"next_page"`
}

// DefaultSelectors matches the Telerik RadGrid markup of the MTA alert archive.
func DefaultSelectors() Selectors {
	return Selectors{
		StartDate:   "#ctl00_ContentPlaceHolder1_dtpStartDate_dateInput",
		EndDate:     "#ctl00_ContentPlaceHolder1_dtpStopDate_dateInput",
		Fetch:       "#ctl00_ContentPlaceHolder1_btnGetData",
		Table:       "table.rgMasterTable",
		Rows:        "table.rgMasterTable > tbody > tr:not(.rgNoRecords)",
		Cells:       "td",
		CurrentPage: "a.rgCurrentPage > span",
		TotalPages:  ".rgInfoPart > strong:nth-child(2)",
		NextPage:    "input.rgPageNext",
	}
}

// Validate reports the first empty selector.
func (s Selectors) Validate() error {
	fields := []struct{ name, value string }{
		{"start_date", s.StartDate},
		{"end_date", s.EndDate},
		{"fetch", s.Fetch},
		{"table", s.Table},
		{"rows", s.Rows},
		{"cells", s.Cells},
		{"current_page", s.CurrentPage},
		{"total_pages", s.TotalPages},
		{"next_page", s.NextPage},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("selector %s is empty", f.name)
		}
	}
	return nil
}

// ParsePage extracts the grid rows and pager labels from a rendered document.
func ParsePage(doc *goquery.Document, sel Selectors) (PageResult, error) {
	if doc.Find(sel.Table).Length() == 0 {
		return PageResult{}, fmt.Errorf("%w: %s", ErrTableNotFound, sel.Table)
	}

	rows := make([]Row, 0)
	doc.Find(sel.Rows).Each(func(_ int, tr *goquery.Selection) {
		row := make(Row, 0)
		tr.Find(sel.Cells).Each(func(_ int, td *goquery.Selection) {
			row = append(row, cellText(td))
		})
		rows = append(rows, row)
	})

	current, err := markerText(doc, sel.CurrentPage)
	if err != nil {
		return PageResult{}, err
	}
	total, err := markerText(doc, sel.TotalPages)
	if err != nil {
		return PageResult{}, err
	}

	return PageResult{
		Rows:   rows,
		Marker: PageMarker{Current: current, Total: total},
	}, nil
}

func markerText(doc *goquery.Document, selector string) (string, error) {
	node := doc.Find(selector).First()
	if node.Length() == 0 {
		return "", fmt.Errorf("%w: %s", ErrMarkerNotFound, selector)
	}
	return cellText(node), nil
}

// cellText approximates a rendered element's innerText: <br> breaks lines,
// other whitespace runs collapse to a single space.
func cellText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		writeText(&b, n)
	}
	lines := strings.Split(b.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(strings.ReplaceAll(n.Data, "\n", " "))
		return
	case html.ElementNode:
		switch n.Data {
		case "br":
			b.WriteByte('\n')
			return
		case "script", "style":
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
}
