package enrich

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/aoki/jgrants-sync/internal/jgrants"
	"github.com/aoki/jgrants-sync/internal/models"
)

// ContentStore is the slice of the store the enricher writes through.
type ContentStore interface {
	UpdateContent(ctx context.Context, rec *models.ContentRecord) error
	SetAIGeneratedAt(ctx context.Context, id uuid.UUID, at time.Time) error
	GetOrCreateTerm(ctx context.Context, taxonomy, name string) (int64, error)
	ReplaceTerms(ctx context.Context, recordID uuid.UUID, taxonomy string, termIDs []int64) error
	ListTerms(ctx context.Context, taxonomy string) ([]models.TaxonomyTerm, error)
}

// Result reports the outcome of one enrichment pass, per step.
type Result struct {
	Titled      bool   `json:"titled"`
	Excerpted   bool   `json:"excerpted"`
	Bodied      bool   `json:"bodied"`
	Categorized bool   `json:"categorized"`
	Regioned    bool   `json:"regioned"`
	Skipped     bool   `json:"skipped"`
	SkipReason  string `json:"skip_reason,omitempty"`
}

// Generated reports whether any text was produced by the backend. Term
// assignment alone does not count: the record's generation timestamp
// only moves when content changed.
func (r Result) Generated() bool {
	return r.Titled || r.Excerpted || r.Bodied
}

// Steps toggles the individual generation passes.
type Steps struct {
	Title    bool
	Excerpt  bool
	Body     bool
	Category bool
	Region   bool
}

// Prompts holds the user prompt templates. Placeholders {grant_name},
// {organization}, {max_amount}, {target}, {deadline} are expanded from
// the grant before each call.
type Prompts struct {
	Title    string
	Excerpt  string
	Body     string
	Category string
	Region   string
}

// Options configures an Enricher.
type Options struct {
	Steps           Steps
	Prompts         Prompts
	RegenerateAfter time.Duration
	Limiter         *SlidingWindowLimiter
}

const (
	maxTitleRunes   = 100
	maxExcerptRunes = 200

	titleTokens   = 500
	excerptTokens = 500
	bodyTokens    = 2000
	shortTokens   = 100

	systemPrompt = "あなたは日本の補助金・助成金に詳しいコンテンツライターです。正確で分かりやすい日本語で回答してください。"
)

// Enricher runs the AI generation passes over one content record.
// Generation failures are soft: a failed step logs and moves on, only
// store writes surface errors.
type Enricher struct {
	backend Backend
	store   ContentStore
	opts    Options

	bodyPolicy  *bluemonday.Policy
	stripPolicy *bluemonday.Policy
	now         func() time.Time
}

func NewEnricher(backend Backend, store ContentStore, opts Options) *Enricher {
	if opts.Limiter == nil {
		opts.Limiter = NewSlidingWindowLimiter(10, 10*time.Minute)
	}
	if opts.RegenerateAfter <= 0 {
		opts.RegenerateAfter = 24 * time.Hour
	}

	bodyPolicy := bluemonday.NewPolicy()
	bodyPolicy.AllowElements("h2", "h3", "h4", "p", "ul", "ol", "li", "strong", "em", "br",
		"table", "thead", "tbody", "tr", "th", "td")
	bodyPolicy.AllowAttrs("class").OnElements("div", "span")

	return &Enricher{
		backend:     backend,
		store:       store,
		opts:        opts,
		bodyPolicy:  bodyPolicy,
		stripPolicy: bluemonday.StrictPolicy(),
		now:         time.Now,
	}
}

// EnrichRecord runs the enabled generation steps against rec using the
// grant as source material, then persists the result. A record
// enriched within the regeneration horizon is skipped untouched.
func (e *Enricher) EnrichRecord(ctx context.Context, rec *models.ContentRecord, grant models.Grant) (Result, error) {
	var res Result
	now := e.now()
	if rec.AIGeneratedAt != nil && now.Sub(*rec.AIGeneratedAt) < e.opts.RegenerateAfter {
		log.Printf("[Enrich] %s: generated %s ago, within horizon, skipping", rec.ExternalID, now.Sub(*rec.AIGeneratedAt).Round(time.Minute))
		res.Skipped = true
		res.SkipReason = "recently generated"
		return res, nil
	}

	limited := false

	if e.opts.Steps.Title && strings.TrimSpace(rec.Title) == "" {
		out, ok, l := e.generate(ctx, rec.ExternalID, "title", e.opts.Prompts.Title, grant, titleTokens)
		limited = limited || l
		if ok {
			rec.Title = truncateRunes(e.stripPolicy.Sanitize(out), maxTitleRunes)
			res.Titled = true
		}
	}

	if e.opts.Steps.Excerpt {
		out, ok, l := e.generate(ctx, rec.ExternalID, "excerpt", e.opts.Prompts.Excerpt, grant, excerptTokens)
		limited = limited || l
		if ok {
			rec.Excerpt = truncateRunes(e.stripPolicy.Sanitize(out), maxExcerptRunes)
			res.Excerpted = true
		}
	}

	if e.opts.Steps.Body {
		out, ok, l := e.generate(ctx, rec.ExternalID, "body", e.opts.Prompts.Body, grant, bodyTokens)
		limited = limited || l
		if ok {
			rec.Body = e.bodyPolicy.Sanitize(BuildBody(grant, out))
			res.Bodied = true
		}
	}

	if e.opts.Steps.Category {
		done, l := e.assignCategory(ctx, rec, grant)
		res.Categorized = done
		limited = limited || l
	}

	if e.opts.Steps.Region {
		done, l := e.assignRegion(ctx, rec, grant)
		res.Regioned = done
		limited = limited || l
	}

	if err := e.store.UpdateContent(ctx, rec); err != nil {
		return res, err
	}
	if res.Generated() {
		rec.AIGeneratedAt = &now
		if err := e.store.SetAIGeneratedAt(ctx, rec.ID, now); err != nil {
			return res, err
		}
	} else if limited {
		res.Skipped = true
		res.SkipReason = "rate limited"
	}
	return res, nil
}

// generate runs one backend call behind the sliding-window limiter.
// The user prompt is the rendered template followed by the formatted
// grant data and any step-specific trailers, so the backend always
// receives the source material. Denied or failed calls report
// ok=false and the step is skipped; limited marks a limiter denial.
func (e *Enricher) generate(ctx context.Context, externalID, step, promptTmpl string, grant models.Grant, maxTokens int, trailers ...string) (out string, ok, limited bool) {
	if strings.TrimSpace(promptTmpl) == "" {
		return "", false, false
	}
	if !e.opts.Limiter.Allow() {
		log.Printf("[Enrich] %s: rate limit window exhausted, skipping %s", externalID, step)
		return "", false, true
	}

	prompt := renderPrompt(promptTmpl, grant) + "\n\n" + formatGrantData(grant)
	for _, t := range trailers {
		prompt += "\n\n" + t
	}

	out, err := e.backend.Generate(ctx, systemPrompt, prompt, maxTokens)
	if err != nil {
		log.Printf("[Enrich] %s: %s generation failed: %v", externalID, step, err)
		return "", false, false
	}
	if strings.TrimSpace(out) == "" {
		return "", false, false
	}
	return out, true, false
}

// assignCategory picks a category for the record. The prompt carries
// the known category names; new names from the backend become new
// terms, and a failed call falls back to the keyword table so a
// category is always assigned.
func (e *Enricher) assignCategory(ctx context.Context, rec *models.ContentRecord, grant models.Grant) (done, limited bool) {
	name := ""
	out, ok, limited := e.generate(ctx, rec.ExternalID, "category", e.opts.Prompts.Category, grant, shortTokens,
		"選択可能なカテゴリ: "+strings.Join(e.categoryNames(ctx), "、"),
		"選択したカテゴリ名のみを回答してください。")
	if ok {
		name = strings.TrimSpace(e.stripPolicy.Sanitize(out))
	}
	if name == "" {
		name = jgrants.Categorize(grant.Title, grant.Description)
	}

	termID, err := e.store.GetOrCreateTerm(ctx, models.TaxonomyCategory, name)
	if err != nil {
		log.Printf("[Enrich] %s: category term %q: %v", rec.ExternalID, name, err)
		return false, limited
	}
	if err := e.store.ReplaceTerms(ctx, rec.ID, models.TaxonomyCategory, []int64{termID}); err != nil {
		log.Printf("[Enrich] %s: assign category: %v", rec.ExternalID, err)
		return false, limited
	}
	return true, limited
}

// categoryNames lists the category terms already in the store for the
// category prompt. The seed set stands in when the store has none.
func (e *Enricher) categoryNames(ctx context.Context) []string {
	if terms, err := e.store.ListTerms(ctx, models.TaxonomyCategory); err == nil && len(terms) > 0 {
		names := make([]string, len(terms))
		for i, t := range terms {
			names[i] = t.Name
		}
		return names
	}
	names := make([]string, len(jgrants.DefaultCategories))
	for i, c := range jgrants.DefaultCategories {
		names[i] = c.Name
	}
	return names
}

// assignRegion only consults the backend when the source gave no area.
// The prompt carries the canonical prefecture list; the backend may
// name several prefectures separated by commas, tokens that are not
// canonical names are dropped, and an answer with no canonical token
// resolves to the nationwide sentinel.
func (e *Enricher) assignRegion(ctx context.Context, rec *models.ContentRecord, grant models.Grant) (done, limited bool) {
	if strings.TrimSpace(grant.TargetArea) != "" {
		return false, false
	}

	names := []string{models.Nationwide}
	out, ok, limited := e.generate(ctx, rec.ExternalID, "region", e.opts.Prompts.Region, grant, shortTokens,
		"都道府県リスト: "+models.Nationwide+"、"+strings.Join(jgrants.Prefectures(), "、"),
		"都道府県名のみを回答してください。")
	if ok {
		if matched := canonicalRegions(e.stripPolicy.Sanitize(out)); len(matched) > 0 {
			names = matched
		}
	}

	ids := make([]int64, 0, len(names))
	for _, name := range names {
		termID, err := e.store.GetOrCreateTerm(ctx, models.TaxonomyPrefecture, name)
		if err != nil {
			log.Printf("[Enrich] %s: region term %q: %v", rec.ExternalID, name, err)
			return false, limited
		}
		ids = append(ids, termID)
	}
	if err := e.store.ReplaceTerms(ctx, rec.ID, models.TaxonomyPrefecture, ids); err != nil {
		log.Printf("[Enrich] %s: assign region: %v", rec.ExternalID, err)
		return false, limited
	}
	return true, limited
}

// canonicalRegions filters a comma-separated answer down to exact
// prefecture names. A nationwide mention wins over everything else.
func canonicalRegions(answer string) []string {
	tokens := strings.FieldsFunc(answer, func(r rune) bool {
		return r == '、' || r == ',' || r == '，' || r == ' ' || r == '\n'
	})
	var names []string
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == models.Nationwide {
			return []string{models.Nationwide}
		}
		if jgrants.IsPrefecture(tok) {
			names = append(names, tok)
		}
	}
	return names
}

func renderPrompt(tmpl string, g models.Grant) string {
	deadline := "未定"
	if g.Deadline != nil {
		deadline = g.Deadline.Format("2006年1月2日")
	}
	return strings.NewReplacer(
		"{grant_name}", g.Title,
		"{organization}", g.Organization,
		"{max_amount}", FormatYen(g.MaxAmount),
		"{target}", g.Target,
		"{deadline}", deadline,
	).Replace(tmpl)
}

// formatGrantData renders the grant as a labeled block appended to
// every generation prompt.
func formatGrantData(g models.Grant) string {
	var b strings.Builder
	b.WriteString("補助金情報:\n")
	b.WriteString("補助金名: " + orPlaceholder(g.Title) + "\n")
	b.WriteString("実施機関: " + orPlaceholder(g.Organization) + "\n")
	b.WriteString("目的: " + orPlaceholder(g.Purpose) + "\n")
	b.WriteString("対象者: " + orPlaceholder(g.Target) + "\n")
	if g.MaxAmount > 0 {
		b.WriteString("最大支援額: " + FormatYen(g.MaxAmount) + "\n")
	}
	if g.MinAmount > 0 {
		b.WriteString("最小支援額: " + FormatYen(g.MinAmount) + "\n")
	}
	if g.SubsidyRate != "" {
		b.WriteString("補助率: " + g.SubsidyRate + "\n")
	}
	if g.Deadline != nil {
		b.WriteString("締切日: " + g.Deadline.Format("2006年1月2日") + "\n")
	}
	if g.ApplicationStart != nil {
		b.WriteString("申請開始日: " + g.ApplicationStart.Format("2006年1月2日") + "\n")
	}
	if g.Description != "" {
		b.WriteString("概要: " + truncateRunes(g.Description, 400) + "\n")
	}
	return b.String()
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

// BuildBody assembles the article HTML: the generated overview first,
// then deterministic sections from the source data.
func BuildBody(g models.Grant, overview string) string {
	var b strings.Builder

	b.WriteString("<h2>概要</h2>\n")
	if strings.Contains(overview, "<") {
		b.WriteString(overview)
	} else {
		for _, para := range strings.Split(overview, "\n\n") {
			if para = strings.TrimSpace(para); para != "" {
				b.WriteString("<p>" + para + "</p>\n")
			}
		}
	}

	if g.MaxAmount > 0 || g.SubsidyRate != "" {
		b.WriteString("<h2>補助金額</h2>\n<ul>\n")
		if g.MaxAmount > 0 {
			b.WriteString("<li>上限額: " + FormatYen(g.MaxAmount) + "</li>\n")
		}
		if g.MinAmount > 0 {
			b.WriteString("<li>下限額: " + FormatYen(g.MinAmount) + "</li>\n")
		}
		if g.SubsidyRate != "" {
			b.WriteString("<li>補助率: " + g.SubsidyRate + "</li>\n")
		}
		b.WriteString("</ul>\n")
	}

	if g.Target != "" {
		b.WriteString("<h2>対象者</h2>\n<p>" + g.Target + "</p>\n")
	}

	if g.ApplicationStart != nil || g.Deadline != nil {
		b.WriteString("<h2>申請期間</h2>\n<p>")
		if g.ApplicationStart != nil {
			b.WriteString(g.ApplicationStart.Format("2006年1月2日"))
		}
		b.WriteString(" 〜 ")
		if g.Deadline != nil {
			b.WriteString(g.Deadline.Format("2006年1月2日"))
		}
		b.WriteString("</p>\n")
	}

	if g.Organization != "" {
		b.WriteString("<h2>お問い合わせ</h2>\n<p>" + g.Organization + "</p>\n")
	}

	return b.String()
}

// FormatYen renders an amount the way Japanese grant listings write
// them, using 億 and 万 units.
func FormatYen(yen int64) string {
	if yen <= 0 {
		return "未定"
	}
	if yen >= 100_000_000 {
		oku := yen / 100_000_000
		man := (yen % 100_000_000) / 10_000
		if man > 0 {
			return fmt.Sprintf("%d億%s万円", oku, groupDigits(man))
		}
		return fmt.Sprintf("%d億円", oku)
	}
	if yen >= 10_000 && yen%10_000 == 0 {
		return groupDigits(yen/10_000) + "万円"
	}
	return groupDigits(yen) + "円"
}

func groupDigits(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	return s + "," + strings.Join(parts, ",")
}

func truncateRunes(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
