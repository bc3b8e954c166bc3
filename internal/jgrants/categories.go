package jgrants

import "strings"

// DefaultCategories seeds the grant category taxonomy. "その他" is the
// fallback for grants no keyword rule matches.
var DefaultCategories = []struct {
	Name string
	Slug string
}{
	{"IT・デジタル化", "it-digital"},
	{"ものづくり", "manufacturing"},
	{"創業・起業", "startup"},
	{"事業承継", "business-succession"},
	{"海外展開", "overseas"},
	{"雇用・人材育成", "employment"},
	{"研究開発", "rd"},
	{"省エネ・環境", "energy-environment"},
	{"観光・地域振興", "tourism"},
	{"農林水産", "agriculture"},
	{"小規模事業者", "small-business"},
	{"その他", "other"},
}

// CategoryFallback is assigned when no keyword rule matches.
const CategoryFallback = "その他"

// categoryRules is an ordered keyword table. Rules are evaluated top to
// bottom against the grant title and description; the first rule with a
// matching keyword wins.
var categoryRules = []struct {
	Category string
	Keywords []string
}{
	{"IT・デジタル化", []string{"IT", "デジタル", "DX", "システム", "ソフトウェア", "クラウド", "AI", "IoT"}},
	{"ものづくり", []string{"ものづくり", "製造", "生産性", "設備投資", "試作"}},
	{"創業・起業", []string{"創業", "起業", "スタートアップ", "開業"}},
	{"事業承継", []string{"事業承継", "承継", "後継者", "M&A"}},
	{"海外展開", []string{"海外", "輸出", "グローバル", "越境"}},
	{"雇用・人材育成", []string{"雇用", "人材", "採用", "研修", "キャリア"}},
	{"研究開発", []string{"研究開発", "研究", "開発", "技術開発", "イノベーション"}},
	{"省エネ・環境", []string{"省エネ", "環境", "脱炭素", "カーボン", "再生可能エネルギー", "GX"}},
	{"観光・地域振興", []string{"観光", "地域振興", "インバウンド", "まちづくり"}},
	{"農林水産", []string{"農業", "林業", "水産", "農林", "6次産業"}},
	{"小規模事業者", []string{"小規模", "持続化"}},
}

// AmountRanges are the fixed buckets of the amount_range taxonomy, in
// ascending order. They are seeded once and never extended at runtime.
var AmountRanges = []string{
	"〜100万円",
	"100万円〜500万円",
	"500万円〜1000万円",
	"1000万円〜3000万円",
	"3000万円〜5000万円",
	"5000万円〜1億円",
	"1億円以上",
}

// AmountRange buckets a maximum amount in yen. Bucket boundaries are
// inclusive on the low side: exactly 1,000,000 falls in the 100万円〜
// bucket. Zero or unknown amounts get no bucket.
func AmountRange(maxYen int64) string {
	if maxYen <= 0 {
		return ""
	}
	switch {
	case maxYen < 1_000_000:
		return AmountRanges[0]
	case maxYen < 5_000_000:
		return AmountRanges[1]
	case maxYen < 10_000_000:
		return AmountRanges[2]
	case maxYen < 30_000_000:
		return AmountRanges[3]
	case maxYen < 50_000_000:
		return AmountRanges[4]
	case maxYen < 100_000_000:
		return AmountRanges[5]
	default:
		return AmountRanges[6]
	}
}

// Categorize picks a category for a grant from its title and
// description using the ordered keyword table.
func Categorize(title, description string) string {
	haystack := title + " " + description
	for _, rule := range categoryRules {
		for _, kw := range rule.Keywords {
			if strings.Contains(haystack, kw) {
				return rule.Category
			}
		}
	}
	return CategoryFallback
}
