package jgrants

import (
	"strings"

	"github.com/aoki/jgrants-sync/internal/models"
)

// Region groups mirror the standard 8-region split used on the portal,
// with Kyushu and Okinawa merged. Group names double as parent terms in
// the prefecture taxonomy.
var RegionGroups = []struct {
	Name    string
	Members []string
}{
	{"北海道・東北", []string{"北海道", "青森県", "岩手県", "宮城県", "秋田県", "山形県", "福島県"}},
	{"関東", []string{"茨城県", "栃木県", "群馬県", "埼玉県", "千葉県", "東京都", "神奈川県"}},
	{"中部", []string{"新潟県", "富山県", "石川県", "福井県", "山梨県", "長野県", "岐阜県", "静岡県", "愛知県"}},
	{"近畿", []string{"三重県", "滋賀県", "京都府", "大阪府", "兵庫県", "奈良県", "和歌山県"}},
	{"中国", []string{"鳥取県", "島根県", "岡山県", "広島県", "山口県"}},
	{"四国", []string{"徳島県", "香川県", "愛媛県", "高知県"}},
	{"九州・沖縄", []string{"福岡県", "佐賀県", "長崎県", "熊本県", "大分県", "宮崎県", "鹿児島県", "沖縄県"}},
}

var (
	prefectureSet map[string]bool
	regionByName  map[string][]string
)

func init() {
	prefectureSet = make(map[string]bool, 48)
	regionByName = make(map[string][]string, len(RegionGroups))
	for _, g := range RegionGroups {
		regionByName[g.Name] = g.Members
		for _, p := range g.Members {
			prefectureSet[p] = true
		}
	}
}

// Prefectures returns the 47 canonical prefecture names in region order.
func Prefectures() []string {
	out := make([]string, 0, 47)
	for _, g := range RegionGroups {
		out = append(out, g.Members...)
	}
	return out
}

// IsPrefecture reports whether name is one of the 47 canonical names.
func IsPrefecture(name string) bool { return prefectureSet[name] }

// ExpandArea splits a raw target-area string into canonical prefecture
// names. Region group names expand to their members, the nationwide
// sentinel short-circuits, and unrecognized tokens are dropped. An
// empty or fully unrecognized input means the grant applies nationwide.
func ExpandArea(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{models.Nationwide}
	}
	seen := make(map[string]bool)
	var out []string
	for _, tok := range splitArea(raw) {
		tok = strings.TrimSpace(tok)
		switch {
		case tok == models.Nationwide:
			return []string{models.Nationwide}
		case prefectureSet[tok]:
			if !seen[tok] {
				seen[tok] = true
				out = append(out, tok)
			}
		default:
			for _, p := range regionByName[tok] {
				if !seen[p] {
					seen[p] = true
					out = append(out, p)
				}
			}
		}
	}
	if len(out) == 0 {
		return []string{models.Nationwide}
	}
	return out
}

func splitArea(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case '、', ',', '，', '/', '／', ' ', '　':
			return true
		}
		return false
	})
}
