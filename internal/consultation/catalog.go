package consultation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// Catalog is the disease reference table. It reads a CSV file and every
// spreadsheet in the data directory, in that order. Sources that are
// missing or unreadable contribute no rows.
type Catalog struct {
	csvPath string
	xlsxDir string
	logger  zerolog.Logger

	mu   sync.RWMutex
	rows []CatalogRow
}

func NewCatalog(csvPath, xlsxDir string, logger zerolog.Logger) *Catalog {
	c := &Catalog{
		csvPath: csvPath,
		xlsxDir: xlsxDir,
		logger:  logger.With().Str("component", "consultation.catalog").Logger(),
	}
	c.Reload()
	return c
}

// NewStaticCatalog builds a catalog over fixed rows.
func NewStaticCatalog(rows []CatalogRow) *Catalog {
	return &Catalog{logger: zerolog.Nop(), rows: keepNamed(rows)}
}

// Reload re-reads all sources and returns the number of rows loaded.
func (c *Catalog) Reload() int {
	var rows []CatalogRow
	if c.csvPath != "" {
		r, err := readCSV(c.csvPath)
		if err != nil {
			c.logger.Warn().Err(err).Str("file", c.csvPath).Msg("catalog source unavailable")
		}
		rows = append(rows, r...)
	}
	for _, p := range spreadsheets(c.xlsxDir) {
		r, err := readXLSX(p)
		if err != nil {
			c.logger.Warn().Err(err).Str("file", p).Msg("catalog source unavailable")
		}
		rows = append(rows, r...)
	}
	rows = keepNamed(rows)

	c.mu.Lock()
	c.rows = rows
	c.mu.Unlock()

	c.logger.Info().Int("rows", len(rows)).Msg("catalog loaded")
	return len(rows)
}

// Load returns the rows in source order.
func (c *Catalog) Load() []CatalogRow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]CatalogRow(nil), c.rows...)
}

// Match returns the first row whose disease equals name after trimming and
// case folding. There is no partial matching.
func (c *Catalog) Match(name string) (CatalogRow, bool) {
	n := strings.TrimSpace(name)
	if n == "" {
		return CatalogRow{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.rows {
		if strings.EqualFold(strings.TrimSpace(r.Disease), n) {
			return r, true
		}
	}
	return CatalogRow{}, false
}

func keepNamed(rows []CatalogRow) []CatalogRow {
	out := rows[:0:0]
	for _, r := range rows {
		if strings.TrimSpace(r.Disease) != "" {
			out = append(out, r)
		}
	}
	return out
}

func spreadsheets(dir string) []string {
	if dir == "" {
		return nil
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.xlsx"))
	var out []string
	for _, m := range matches {
		// lock files left behind by spreadsheet editors
		if !strings.HasPrefix(filepath.Base(m), "~$") {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

func readCSV(path string) ([]CatalogRow, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := mapColumns(header)

	var rows []CatalogRow
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("read row: %w", err)
		}
		rows = append(rows, cols.row(rec))
	}
	return rows, nil
}

func readXLSX(path string) ([]CatalogRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	cols := mapColumns(records[0])
	rows := make([]CatalogRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		rows = append(rows, cols.row(rec))
	}
	return rows, nil
}

type columns map[string]int

var headerAliases = map[string]string{
	"disease":    "disease",
	"medicine":   "medicine",
	"medicines":  "medicine",
	"adult dose": "adult_dose",
	"child dose": "child_dose",
	"tests":      "tests",
	"warnings":   "warnings",
	"warning":    "warnings",
	"home care":  "home_care",
}

func mapColumns(header []string) columns {
	cols := make(columns)
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if key, ok := headerAliases[h]; ok {
			if _, seen := cols[key]; !seen {
				cols[key] = i
			}
		}
	}
	return cols
}

func (c columns) get(rec []string, key string) string {
	i, ok := c[key]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func (c columns) row(rec []string) CatalogRow {
	return CatalogRow{
		Disease:   c.get(rec, "disease"),
		Medicine:  c.get(rec, "medicine"),
		AdultDose: c.get(rec, "adult_dose"),
		ChildDose: c.get(rec, "child_dose"),
		Tests:     c.get(rec, "tests"),
		Warnings:  c.get(rec, "warnings"),
		HomeCare:  c.get(rec, "home_care"),
	}
}
