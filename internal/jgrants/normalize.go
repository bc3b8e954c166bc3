package jgrants

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aoki/jgrants-sync/internal/models"
)

// Field aliases observed across API revisions. Normalization picks the
// first alias that is present and non-empty.
var (
	aliasExternalID  = []string{"id", "subsidy_id", "grant_id"}
	aliasTitle       = []string{"title", "name", "subsidy_name"}
	aliasDescription = []string{"detail", "description", "summary", "subsidy_catch_phrase", "overview"}
	aliasOrg         = []string{"organization", "competent_authorities", "provider", "support_organization"}
	aliasPurpose     = []string{"use_purpose", "purpose"}
	aliasTarget      = []string{"target", "eligible_entities", "target_detail"}
	aliasMaxAmount   = []string{"subsidy_max_limit", "max_amount", "maximum_amount", "amount_max"}
	aliasMinAmount   = []string{"subsidy_min_limit", "min_amount", "minimum_amount", "amount_min"}
	aliasRate        = []string{"subsidy_rate", "rate", "subsidy_rate_detail"}
	aliasStart       = []string{"acceptance_start_datetime", "application_start", "start_date", "acceptance_start"}
	aliasDeadline    = []string{"acceptance_end_datetime", "application_deadline", "deadline", "end_date", "acceptance_end"}
	aliasURL         = []string{"front_subsidy_detail_page_url", "official_url", "detail_url", "url"}
	aliasArea        = []string{"target_area_search", "target_area_detail", "prefecture", "region", "area"}
	aliasIndustry    = []string{"industry", "target_industry"}
	aliasEmployees   = []string{"target_number_of_employees", "target_employees"}
	aliasCategory    = []string{"category", "field", "subsidy_category"}
)

// NormalizeGrant maps one raw API record onto the canonical Grant
// shape. Only a missing external id is an error; every other field
// degrades to its zero value.
func NormalizeGrant(raw map[string]any, now time.Time) (models.Grant, error) {
	id := pickString(raw, aliasExternalID)
	if id == "" {
		return models.Grant{}, fmt.Errorf("record has no external id")
	}

	g := models.Grant{
		ExternalID:      id,
		Title:           strings.TrimSpace(pickString(raw, aliasTitle)),
		Description:     htmlToText(pickString(raw, aliasDescription)),
		Organization:    strings.TrimSpace(pickString(raw, aliasOrg)),
		Purpose:         htmlToText(pickString(raw, aliasPurpose)),
		Target:          htmlToText(pickString(raw, aliasTarget)),
		SubsidyRate:     strings.TrimSpace(pickString(raw, aliasRate)),
		OfficialURL:     strings.TrimSpace(pickString(raw, aliasURL)),
		Industry:        strings.TrimSpace(pickString(raw, aliasIndustry)),
		TargetArea:      strings.TrimSpace(pickString(raw, aliasArea)),
		TargetEmployees: strings.TrimSpace(pickString(raw, aliasEmployees)),
	}

	g.MaxAmount = parseAmount(pickRaw(raw, aliasMaxAmount))
	g.MinAmount = parseAmount(pickRaw(raw, aliasMinAmount))

	if t, ok := parseTime(pickString(raw, aliasStart)); ok {
		g.ApplicationStart = &t
	}
	if t, ok := parseTime(pickString(raw, aliasDeadline)); ok {
		t = toEndOfDay(t)
		g.Deadline = &t
	}

	g.Prefectures = ExpandArea(g.TargetArea)
	g.Status = models.DeriveStatus(g.ApplicationStart, g.Deadline, now)

	g.Category = strings.TrimSpace(pickString(raw, aliasCategory))
	if g.Category == "" {
		g.Category = Categorize(g.Title, g.Description)
	}
	return g, nil
}

func pickRaw(m map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				continue
			}
			return v
		}
	}
	return nil
}

func pickString(m map[string]any, keys []string) string {
	switch v := pickRaw(m, keys).(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "、")
	default:
		return ""
	}
}

// htmlToText flattens markup some detail fields arrive with. Plain
// text passes through untouched.
func htmlToText(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

var amountDigits = regexp.MustCompile(`[\d.]+`)

// parseAmount converts an amount value to yen. Numeric values are taken
// as yen already. Strings may carry 万/億 unit suffixes and separators,
// e.g. "1億5,000万円" or "500万円".
func parseAmount(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case string:
		return parseAmountString(n)
	default:
		return 0
	}
}

func parseAmountString(s string) int64 {
	s = strings.NewReplacer(",", "", "，", "", " ", "", "　", "", "円", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return 0
	}
	var total float64
	if i := strings.IndexRune(s, '億'); i >= 0 {
		if f, ok := leadingNumber(s[:i]); ok {
			total += f * 100_000_000
		}
		s = s[i+len("億"):]
	}
	if i := strings.IndexRune(s, '万'); i >= 0 {
		if f, ok := leadingNumber(s[:i]); ok {
			total += f * 10_000
		}
		s = s[i+len("万"):]
	}
	if f, ok := leadingNumber(s); ok {
		total += f
	}
	return int64(total)
}

func leadingNumber(s string) (float64, bool) {
	m := amountDigits.FindString(s)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

var jpDate = regexp.MustCompile(`^(\d{4})年(\d{1,2})月(\d{1,2})日$`)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// parseTime accepts the date formats seen across API revisions and
// normalizes to UTC. Date-only values come back at midnight.
func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if m := jpDate.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// toEndOfDay pushes a midnight deadline to the end of that day so a
// grant stays open through its stated closing date.
func toEndOfDay(t time.Time) time.Time {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
	}
	return t
}
