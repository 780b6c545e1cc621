// Package dataset loads utility panels from disk: a CSV table of scored
// utility records plus a YAML manifest naming its columns. The manifest can
// also map survey ids to real time offsets for the QALY integration.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mtvedt/qalyboot/internal/models"
)

// ColumnMap names the CSV columns holding each record field. Acute is
// optional; without it every record loads as non-acute.
type ColumnMap struct {
	Respondent string `yaml:"respondent"`
	Survey     string `yaml:"survey"`
	AgeGroup   string `yaml:"age_group"`
	Sex        string `yaml:"sex"`
	Utility    string `yaml:"utility"`
	Acute      string `yaml:"acute,omitempty"`
}

// Manifest describes one dataset file.
type Manifest struct {
	Columns ColumnMap       `yaml:"columns"`
	Times   map[int]float64 `yaml:"times,omitempty"` // survey id -> time offset
}

// DefaultManifest returns the column names assumed when no manifest is
// configured.
func DefaultManifest() *Manifest {
	return &Manifest{
		Columns: ColumnMap{
			Respondent: "respondent",
			Survey:     "survey",
			AgeGroup:   "age_group",
			Sex:        "sex",
			Utility:    "utility",
			Acute:      "acute",
		},
	}
}

// LoadManifest reads a manifest file. Column names left empty fall back to
// the defaults.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	defaults := DefaultManifest().Columns
	fill(&m.Columns.Respondent, defaults.Respondent)
	fill(&m.Columns.Survey, defaults.Survey)
	fill(&m.Columns.AgeGroup, defaults.AgeGroup)
	fill(&m.Columns.Sex, defaults.Sex)
	fill(&m.Columns.Utility, defaults.Utility)
	return &m, nil
}

func fill(field *string, def string) {
	if strings.TrimSpace(*field) == "" {
		*field = def
	}
}

// Load reads the CSV table at path into a validated panel. A nil manifest
// uses the default column names.
func Load(path string, manifest *Manifest) (models.Panel, error) {
	if manifest == nil {
		manifest = DefaultManifest()
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()

	panel, err := parse(file, manifest)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", path, err)
	}
	return panel, nil
}

// parse decodes the CSV stream and validates the assembled panel.
func parse(r io.Reader, manifest *Manifest) (models.Panel, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols, err := resolveColumns(header, manifest.Columns)
	if err != nil {
		return nil, err
	}

	var panel models.Panel
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line+1, err)
		}
		line++

		rec, err := cols.record(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		panel = append(panel, rec)
	}

	if err := panel.Validate(); err != nil {
		return nil, err
	}
	return panel, nil
}

// columnIndex holds the resolved position of each field; -1 marks the
// optional acute column as absent.
type columnIndex struct {
	respondent int
	survey     int
	ageGroup   int
	sex        int
	utility    int
	acute      int
}

func resolveColumns(header []string, cm ColumnMap) (*columnIndex, error) {
	find := func(name string) int {
		for i, h := range header {
			if strings.TrimSpace(h) == name {
				return i
			}
		}
		return -1
	}

	idx := &columnIndex{
		respondent: find(cm.Respondent),
		survey:     find(cm.Survey),
		ageGroup:   find(cm.AgeGroup),
		sex:        find(cm.Sex),
		utility:    find(cm.Utility),
		acute:      -1,
	}
	for name, pos := range map[string]int{
		cm.Respondent: idx.respondent,
		cm.Survey:     idx.survey,
		cm.AgeGroup:   idx.ageGroup,
		cm.Sex:        idx.sex,
		cm.Utility:    idx.utility,
	} {
		if pos < 0 {
			return nil, fmt.Errorf("column %q not found in header %v", name, header)
		}
	}
	if cm.Acute != "" {
		idx.acute = find(cm.Acute)
	}
	return idx, nil
}

// record decodes one CSV row. An empty acute cell means not acute.
func (c *columnIndex) record(row []string) (models.UtilityRecord, error) {
	var rec models.UtilityRecord

	get := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rec.RespondentID = get(c.respondent)

	survey, err := strconv.Atoi(get(c.survey))
	if err != nil {
		return rec, fmt.Errorf("invalid survey id %q", get(c.survey))
	}
	rec.SurveyID = survey

	rec.AgeGroup = get(c.ageGroup)
	rec.Sex = get(c.sex)

	utility, err := strconv.ParseFloat(get(c.utility), 64)
	if err != nil {
		return rec, fmt.Errorf("invalid utility %q", get(c.utility))
	}
	rec.Utility = utility

	if c.acute >= 0 {
		if cell := get(c.acute); cell != "" {
			acute, err := strconv.ParseBool(cell)
			if err != nil {
				return rec, fmt.Errorf("invalid acute flag %q", cell)
			}
			rec.Acute = acute
		}
	}

	if err := rec.Validate(); err != nil {
		return rec, err
	}
	return rec, nil
}
