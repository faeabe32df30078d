package export

import (
	"strings"
	"testing"

	"mfcsync/pkg/models"
)

func TestWriteCSVHeaderAndRow(t *testing.T) {
	records := []*models.Record{
		{
			Fingerprint:  "123456",
			SourceURL:    "https://myfigurecollection.net/item/123456",
			Name:         "Hatsune Miku",
			Manufacturer: "Good Smile Company",
			Scale:        "1/7",
			Companies:    []models.Company{{Name: "Good Smile Company", Role: "manufacturer"}},
			Artists:      []models.Artist{{Name: "Yuu Kanamori", Role: "sculptor"}},
			Releases:     []models.Release{{Date: "2023-05-01", Edition: "Standard", Price: "$120"}},
		},
	}

	out, err := ToCSVString(records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines: %q", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "fingerprint,source_url,name") {
		t.Errorf("unexpected header: %q", lines[0])
	}
	if !strings.Contains(lines[1], "Hatsune Miku") || !strings.Contains(lines[1], "Good Smile Company (manufacturer)") {
		t.Errorf("unexpected row: %q", lines[1])
	}
}

func TestWriteCSVEmptyInputStillWritesHeader(t *testing.T) {
	out, err := ToCSVString(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "fingerprint,source_url") {
		t.Errorf("expected header only, got %q", out)
	}
}

func TestWriteCSVSkipsNilRecords(t *testing.T) {
	records := []*models.Record{nil, {Fingerprint: "1"}}
	out, err := ToCSVString(records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row (nil skipped), got %d lines", len(lines))
	}
}

func TestFormatReleasesJoinsMultiple(t *testing.T) {
	got := formatReleases([]models.Release{
		{Date: "2023-05-01", Edition: "Standard"},
		{Date: "2023-08-01", Price: "$140"},
	})
	want := "2023-05-01 Standard; 2023-08-01 $140"
	if got != want {
		t.Errorf("formatReleases = %q, want %q", got, want)
	}
}
