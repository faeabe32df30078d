// Package export renders extracted records into CSV for the downstream
// collection-sync workflow. It is a pure formatter: no queue, network, or
// browser dependency.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"mfcsync/pkg/models"
)

var header = []string{
	"fingerprint", "source_url", "name", "manufacturer", "scale",
	"image_url", "companies", "artists", "releases",
}

// WriteCSV renders records as CSV (header + one row per record) to w.
func WriteCSV(w io.Writer, records []*models.Record) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, r := range records {
		if r == nil {
			continue
		}
		row := []string{
			r.Fingerprint,
			r.SourceURL,
			r.Name,
			r.Manufacturer,
			r.Scale,
			r.ImageURL,
			formatCompanies(r.Companies),
			formatArtists(r.Artists),
			formatReleases(r.Releases),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row for %s: %w", r.Fingerprint, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ToCSVString is a convenience wrapper over WriteCSV for callers that want
// the result in memory (e.g. an HTTP handler streaming an attachment).
func ToCSVString(records []*models.Record) (string, error) {
	var sb strings.Builder
	if err := WriteCSV(&sb, records); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func formatCompanies(companies []models.Company) string {
	parts := make([]string, 0, len(companies))
	for _, c := range companies {
		if c.Role != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", c.Name, c.Role))
		} else {
			parts = append(parts, c.Name)
		}
	}
	return strings.Join(parts, "; ")
}

func formatArtists(artists []models.Artist) string {
	parts := make([]string, 0, len(artists))
	for _, a := range artists {
		if a.Role != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", a.Name, a.Role))
		} else {
			parts = append(parts, a.Name)
		}
	}
	return strings.Join(parts, "; ")
}

func formatReleases(releases []models.Release) string {
	parts := make([]string, 0, len(releases))
	for _, r := range releases {
		part := r.Date
		if r.Edition != "" {
			part += " " + r.Edition
		}
		if r.Price != "" {
			part += " " + r.Price
		}
		parts = append(parts, strings.TrimSpace(part))
	}
	return strings.Join(parts, "; ")
}
