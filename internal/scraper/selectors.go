package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
)

// Marker selectors used by the listing site.
const (
	listingTitleSelector = `a[data-qa="serp-item__title"]`
	titleSelector        = `h1[data-qa="title"]`
	salarySelector       = `span[data-qa="vacancy-salary-compensation-type-gross"]`
	experienceSelector   = `span[data-qa="vacancy-experience"]`
	workFormatSelector   = `p.vacancy-description-list-item[data-qa="vacancy-view-employment-mode"]`
	descriptionSelector  = `div.g-user-content[data-qa="vacancy-description"]`
	skillSelector        = `li[data-qa="skills-element"]`
)

var controlStripper = strings.NewReplacer("\n", "", "\u00a0", "", "\t", "")

// listingHrefs returns every href of a listing title anchor, in document order.
func listingHrefs(doc *goquery.Document) []string {
	var hrefs []string
	doc.Find(listingTitleSelector).Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok && strings.TrimSpace(href) != "" {
			hrefs = append(hrefs, strings.TrimSpace(href))
		}
	})
	return hrefs
}

// extractDetail fills the scalar and skill fields of a detail page.
func extractDetail(doc *goquery.Document, raw *vacancy.RawVacancy) {
	if v := scalarText(doc, titleSelector); v != nil {
		raw.Title = *v
	}
	raw.Salary = scalarText(doc, salarySelector)
	raw.Experience = scalarText(doc, experienceSelector)
	raw.WorkFormat = scalarText(doc, workFormatSelector)
	if v := scalarText(doc, descriptionSelector); v != nil {
		raw.Description = *v
	}
	raw.Skills = []string{}
	doc.Find(skillSelector).Each(func(_ int, sel *goquery.Selection) {
		if skill := strings.TrimSpace(sel.Text()); skill != "" {
			raw.Skills = append(raw.Skills, skill)
		}
	})
}

// scalarText reads the first match of selector, or nil when the marker is absent.
func scalarText(doc *goquery.Document, selector string) *string {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil
	}
	text := cleanText(sel.Text())
	return &text
}

func cleanText(s string) string {
	return controlStripper.Replace(strings.TrimSpace(s))
}
