package chromedp_browser

import (
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/patentscope-crawler/internal/entity"
	"github.com/user/patentscope-crawler/pkg/utils"
)

// ParseDocument extracts every attribute from a single rendered page.
func ParseDocument(html, baseURL string) (*entity.Attributes, error) {
	attrs, err := ParseBibliographic(html)
	if err != nil {
		return nil, err
	}
	attrs.FamilyCountries, attrs.DocumentLink, err = ParseFamily(html, baseURL)
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

// ParseBibliographic extracts the bibliographic fields from the detail view. Missing
// fields are left empty; an HTML document without any of them is not an error.
func ParseBibliographic(html string) (*entity.Attributes, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	attrs := &entity.Attributes{
		Title:    firstText(doc.Find("h3.tab_title, .patent-title, h1")),
		Abstract: firstText(doc.Find("div.abstract, .patent-abstract, #abstract")),
	}

	attrs.Holder = firstText(doc.Find("div.applicant"))
	if attrs.Holder == "" {
		attrs.Holder = firstText(valueCells(doc, "Applicant"))
	}

	inventors := doc.Find(".inventor").AddSelection(valueCells(doc, "Inventor"))
	attrs.Inventors = uniqueTexts(inventors)

	for _, label := range []string{"Filing Date", "Application Date"} {
		if attrs.FilingDate = firstText(valueCells(doc, label)); attrs.FilingDate != "" {
			break
		}
	}

	attrs.Classifications = classificationCodes(doc)
	return attrs, nil
}

// ParseFamily reads the family country codes and the download link from the national
// phase view.
func ParseFamily(html, baseURL string) (countries []string, link string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, "", err
	}
	return countryCodes(doc), documentLink(doc, baseURL), nil
}

// valueCells returns the cells that follow a label cell containing label.
func valueCells(doc *goquery.Document, label string) *goquery.Selection {
	label = strings.ToLower(label)
	return doc.Find("td").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(strings.ToLower(s.Text()), label)
	}).Next().Filter("td")
}

func firstText(s *goquery.Selection) string {
	var text string
	s.EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text = clean(sel.Text())
		return text == ""
	})
	return text
}

func uniqueTexts(s *goquery.Selection) []string {
	var out []string
	seen := make(map[string]bool)
	s.Each(func(_ int, sel *goquery.Selection) {
		if text := clean(sel.Text()); text != "" && !seen[text] {
			seen[text] = true
			out = append(out, text)
		}
	})
	return out
}

func classificationCodes(doc *goquery.Document) []string {
	cells := doc.Find(".ipc, .cpc").
		AddSelection(valueCells(doc, "IPC")).
		AddSelection(valueCells(doc, "CPC"))

	seen := make(map[string]bool)
	cells.Each(func(_ int, sel *goquery.Selection) {
		text := strings.ReplaceAll(sel.Text(), ";", ",")
		for _, code := range strings.Split(text, ",") {
			if code = clean(code); code != "" {
				seen[code] = true
			}
		}
	})
	if len(seen) == 0 {
		return nil
	}
	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func countryCodes(doc *goquery.Document) []string {
	var out []string
	doc.Find("table.nationalPhase td:first-child, .country-code").Each(func(_ int, sel *goquery.Selection) {
		code := strings.ToUpper(clean(sel.Text()))
		if len(code) == 2 && !contains(out, code) {
			out = append(out, code)
		}
	})
	return out
}

func documentLink(doc *goquery.Document, baseURL string) string {
	link := doc.Find(`a[href*=".pdf"]`).First()
	if link.Length() == 0 {
		link = doc.Find("a").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return strings.Contains(s.Text(), "PDF")
		}).First()
	}
	href, ok := link.Attr("href")
	if !ok || href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http") {
		return href
	}
	if baseURL == "" {
		baseURL = utils.DefaultBaseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	abs, err := utils.ToAbsoluteURL(base, href)
	if err != nil {
		return href
	}
	return abs
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
