package blast

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// MergeRecipients deduplicates by phone across sources. Later sources win on
// collision, so the name from the last source that mentions a phone sticks.
func MergeRecipients(sources ...[]Recipient) []Recipient {
	index := make(map[string]int)
	var merged []Recipient
	for _, source := range sources {
		for _, r := range source {
			if r.Phone == "" {
				continue
			}
			if i, ok := index[r.Phone]; ok {
				merged[i] = r
				continue
			}
			index[r.Phone] = len(merged)
			merged = append(merged, r)
		}
	}
	return merged
}

// ParseSheet reads recipients from the first sheet of an xlsx upload. Header
// names match phone/name case-insensitively, values are trimmed, and rows
// without a phone are dropped.
func ParseSheet(r io.Reader) ([]Recipient, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open sheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("invalid sheet: no worksheets found")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	phoneCol, nameCol := -1, -1
	for i, header := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(header)) {
		case "phone":
			phoneCol = i
		case "name":
			nameCol = i
		}
	}
	if phoneCol == -1 {
		return nil, fmt.Errorf("invalid sheet: no phone column")
	}

	var recipients []Recipient
	for _, row := range rows[1:] {
		recipient := Recipient{}
		if phoneCol < len(row) {
			recipient.Phone = strings.TrimSpace(row[phoneCol])
		}
		if nameCol >= 0 && nameCol < len(row) {
			recipient.Name = strings.TrimSpace(row[nameCol])
		}
		if recipient.Phone == "" {
			continue
		}
		recipients = append(recipients, recipient)
	}
	return recipients, nil
}
