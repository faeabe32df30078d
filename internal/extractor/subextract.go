package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"mfcsync/pkg/models"
)

// The sub-extractors below are pure functions from an HTML string to a
// typed record; they do not touch the network or a browser. The core
// extractor orchestrates navigation and challenge handling and calls these
// once it has final page HTML.

func parseDoc(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func cleanText(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return s
}

// ExtractName pulls the item's display name from the page title block.
func ExtractName(doc *goquery.Document) string {
	selectors := []string{"h1.item-title", "h1[itemprop='name']", "h1"}
	for _, sel := range selectors {
		if text := cleanText(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// ExtractImageURL pulls the main item image, preferring a high-resolution
// link over an inline thumbnail.
func ExtractImageURL(doc *goquery.Document) string {
	if href, ok := doc.Find("a.item-picture-link, a.main-image-link").First().Attr("href"); ok && href != "" {
		return href
	}
	if src, ok := doc.Find("img.item-picture, img.main-image, img[itemprop='image']").First().Attr("src"); ok {
		return src
	}
	return ""
}

// ExtractManufacturer pulls the primary manufacturer name, independent of
// the fuller companies list.
func ExtractManufacturer(doc *goquery.Document) string {
	sel := doc.Find(".item-manufacturer a, [data-field='manufacturer'] a").First()
	if text := cleanText(sel.Text()); text != "" {
		return text
	}
	for _, c := range ExtractCompanies(doc) {
		if c.Role == "manufacturer" || c.Role == "" {
			return c.Name
		}
	}
	return ""
}

// ExtractScale pulls the figure's scale (e.g. "1/7") from the item's data
// table.
func ExtractScale(doc *goquery.Document) string {
	return extractDataTableField(doc, "scale")
}

// ExtractCompanies collects every company credit (manufacturer, distributor,
// sculptor's workshop, etc.) with its role.
func ExtractCompanies(doc *goquery.Document) []models.Company {
	var companies []models.Company
	seen := make(map[string]bool)

	doc.Find(".item-companies a, .companies-block a, [data-field='company'] a").Each(func(_ int, s *goquery.Selection) {
		name := cleanText(s.Text())
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		role := cleanText(s.NextFiltered(".role, .company-role").Text())
		companies = append(companies, models.Company{Name: name, Role: strings.ToLower(role)})
	})
	return companies
}

// ExtractArtists collects every individual credit (sculptor, illustrator,
// painter, etc.) with its role.
func ExtractArtists(doc *goquery.Document) []models.Artist {
	var artists []models.Artist
	seen := make(map[string]bool)

	doc.Find(".item-artists a, .artists-block a, [data-field='artist'] a").Each(func(_ int, s *goquery.Selection) {
		name := cleanText(s.Text())
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		role := cleanText(s.NextFiltered(".role, .artist-role").Text())
		artists = append(artists, models.Artist{Name: name, Role: strings.ToLower(role)})
	})
	return artists
}

// ExtractReleases collects every regional/edition release listed for the
// item: a release date, an edition label, and a price when present.
func ExtractReleases(doc *goquery.Document) []models.Release {
	var releases []models.Release

	doc.Find(".releases-block tr, table.item-releases tr").Each(func(i int, row *goquery.Selection) {
		if row.Find("th").Length() > 0 {
			return // header row
		}
		date := cleanText(row.Find(".release-date, td:nth-child(1)").First().Text())
		edition := cleanText(row.Find(".release-edition, td:nth-child(2)").First().Text())
		price := cleanText(row.Find(".release-price, td:nth-child(3)").First().Text())
		if date == "" && edition == "" && price == "" {
			return
		}
		releases = append(releases, models.Release{Date: date, Edition: edition, Price: price})
	})
	return releases
}

// ExtractMisc collects every other labeled field in the item's data table
// (classification, material, origin, and similar) that isn't already
// captured by a dedicated extractor.
func ExtractMisc(doc *goquery.Document) map[string]string {
	misc := make(map[string]string)
	skip := map[string]bool{"scale": true, "manufacturer": true, "name": true}

	doc.Find("table.item-data-table tr, .item-info-table tr").Each(func(_ int, row *goquery.Selection) {
		key := strings.ToLower(cleanText(row.Find("th").First().Text()))
		val := cleanText(row.Find("td").First().Text())
		if key == "" || val == "" || skip[key] {
			return
		}
		misc[key] = val
	})
	return misc
}

func extractDataTableField(doc *goquery.Document, field string) string {
	var found string
	doc.Find("table.item-data-table tr, .item-info-table tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		key := strings.ToLower(cleanText(row.Find("th").First().Text()))
		if key != field {
			return true
		}
		found = cleanText(row.Find("td").First().Text())
		return false
	})
	return found
}

// ExtractRecord runs every sub-extractor against html and assembles a
// Record. Sub-field failures are non-fatal: a sub-extractor that finds
// nothing simply leaves that field empty.
func ExtractRecord(fingerprint, sourceURL, html string) (*models.Record, error) {
	doc, err := parseDoc(html)
	if err != nil {
		return nil, err
	}
	return &models.Record{
		Fingerprint:  fingerprint,
		SourceURL:    sourceURL,
		ImageURL:     ExtractImageURL(doc),
		Name:         ExtractName(doc),
		Manufacturer: ExtractManufacturer(doc),
		Scale:        ExtractScale(doc),
		Releases:     ExtractReleases(doc),
		Companies:    ExtractCompanies(doc),
		Artists:      ExtractArtists(doc),
		Misc:         ExtractMisc(doc),
	}, nil
}
