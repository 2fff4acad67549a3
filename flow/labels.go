package flow

import (
	"sort"
	"strings"

	"github.com/samber/lo"

	"pkt.systems/expertsurvey/schema"
)

// DisplayOrder lists the clinical fields shown first, in order.
var DisplayOrder = []string{
	"Age", "SEX", "RACE", "ETHNICITY", "EDUCATION", "HOUSEHOLD_INCOME",
	"PREVIOUS_SURGERY", "INSURANCE", "AFS", "SEPT_DEV", "CRS_POLYPS", "RAS",
	"HYPER_TURB", "MUCOCELE", "ASTHMA", "ASA_INTOLERANCE", "ALLERGY_TESTING",
	"COPD", "DEPRESSION", "FIBROMYALGIA", "OSA_HISTORY", "SMOKER", "ALCOHOL",
	"STEROID", "DIABETES", "GERD", "BLN_CT_TOTAL", "BLN_ENDOSCOPY_TOTAL", "SNOT22_BLN_TOTAL",
}

var friendlyLabels = map[string]string{
	"TREATMENT":           "Treatment",
	"Age":                 "Age",
	"SEX":                 "Sex",
	"RACE":                "Race",
	"ETHNICITY":           "Ethnicity (NIH)",
	"EDUCATION":           "Years of education",
	"HOUSEHOLD_INCOME":    "Annual household income",
	"PREVIOUS_SURGERY":    "Prior sinus surgery (#)",
	"INSURANCE":           "Insurance Type",
	"AFS":                 "AFRS",
	"SEPT_DEV":            "Septal Deviation",
	"CRS_POLYPS":          "Polyps",
	"RAS":                 "Recurrent Acute Sinusitis",
	"HYPER_TURB":          "Inferior Turb Hypertrophy",
	"MUCOCELE":            "Mucocele",
	"ASTHMA":              "Asthma",
	"ASA_INTOLERANCE":     "AERD",
	"ALLERGY_TESTING":     "Positive allergy skin testing",
	"COPD":                "COPD",
	"DEPRESSION":          "Depression",
	"FIBROMYALGIA":        "Fibromyalgia",
	"OSA_HISTORY":         "OSA History",
	"SMOKER":              "Smoker (ppd)",
	"ALCOHOL":             "Alcohol Use (drinks/wk)",
	"STEROID":             "Steroid dependence",
	"DIABETES":            "Diabetes",
	"GERD":                "GERD",
	"BLN_CT_TOTAL":        "CT score (LM 0-24)",
	"BLN_ENDOSCOPY_TOTAL": "Endoscopy Score (LK 0-20)",
	"SNOT22_BLN_TOTAL":    "SNOT-22 total (0-110)",
}

// Field is one labelled clinical value.
type Field struct {
	Key   string
	Label string
	Value string
}

// FriendlyLabel returns the clinical label for key, or key itself.
func FriendlyLabel(key string) string {
	if label, ok := friendlyLabels[key]; ok {
		return label
	}
	return key
}

// PrettyLabel turns SNAKE_CASE keys into title case words.
func PrettyLabel(key string) string {
	words := strings.Fields(strings.ReplaceAll(strings.ToLower(key), "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// CardFields lists the non-empty clinical fields of rec: the display order
// first, then TREATMENT, then the rest sorted. Administrative columns are
// left out.
func CardFields(rec schema.Record) []Field {
	order := append(append([]string{}, DisplayOrder...), "TREATMENT")
	seen := make(map[string]struct{}, len(order))
	fields := make([]Field, 0, len(rec.Fields))
	for _, key := range order {
		seen[key] = struct{}{}
		if v := rec.Get(key); v != "" {
			fields = append(fields, Field{Key: key, Label: PrettyLabel(key), Value: v})
		}
	}
	rest := lo.Filter(rec.Keys(), func(key string, _ int) bool {
		_, ordered := seen[key]
		return !ordered && !schema.IsAdminColumn(key)
	})
	sort.Strings(rest)
	for _, key := range rest {
		fields = append(fields, Field{Key: key, Label: PrettyLabel(key), Value: rec.Get(key)})
	}
	return fields
}

// DetailFields lists the display-order fields present in rec with their
// friendly labels.
func DetailFields(rec schema.Record) []Field {
	present := lo.Filter(DisplayOrder, func(key string, _ int) bool {
		_, ok := rec.Fields[key]
		return ok
	})
	return lo.Map(present, func(key string, _ int) Field {
		return Field{Key: key, Label: FriendlyLabel(key), Value: rec.Get(key)}
	})
}
