package pgstore

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"pkt.systems/expertsurvey/schema"
)

const metaID = 1

// rosterMeta holds the ordered header. There is one row with ID 1.
type rosterMeta struct {
	ID        int            `gorm:"primaryKey;autoIncrement:false"`
	Columns   datatypes.JSON `gorm:"type:jsonb;not null"`
	RowCount  int            `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime"`
}

func (rosterMeta) TableName() string { return "survey_roster" }

// rosterRow holds one patient row. Claim and submission columns are
// duplicated out of Cells so they can be indexed.
type rosterRow struct {
	Ordinal   int            `gorm:"column:ordinal;primaryKey;autoIncrement:false"`
	Cells     datatypes.JSON `gorm:"type:jsonb;not null"`
	ClaimedBy string         `gorm:"type:varchar(320);index"`
	Reviewer  string         `gorm:"type:varchar(320);index"`
	Submitted bool           `gorm:"not null;index"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime"`
}

func (rosterRow) TableName() string { return "survey_row" }

func encodeRow(row schema.Row, cells map[string]string) (rosterRow, error) {
	data, err := json.Marshal(cells)
	if err != nil {
		return rosterRow{}, fmt.Errorf("encode row %d: %w", row, err)
	}
	return rosterRow{
		Ordinal:   int(row),
		Cells:     datatypes.JSON(data),
		ClaimedBy: cells[schema.ColClaimedBy],
		Reviewer:  cells[schema.ColReviewerEmail],
		Submitted: schema.SubmittedValue(cells[schema.ColSubmissionStatus]),
	}, nil
}

func decodeRow(r rosterRow) (map[string]string, error) {
	cells := map[string]string{}
	if len(r.Cells) == 0 {
		return cells, nil
	}
	if err := json.Unmarshal(r.Cells, &cells); err != nil {
		return nil, fmt.Errorf("decode row %d: %w", r.Ordinal, err)
	}
	return cells, nil
}

func encodeColumns(columns []string) (datatypes.JSON, error) {
	if columns == nil {
		columns = []string{}
	}
	data, err := json.Marshal(columns)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

func decodeColumns(data datatypes.JSON) ([]string, error) {
	var columns []string
	if len(data) == 0 {
		return columns, nil
	}
	if err := json.Unmarshal(data, &columns); err != nil {
		return nil, fmt.Errorf("decode columns: %w", err)
	}
	return columns, nil
}
