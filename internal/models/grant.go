package models

import (
	"time"

	"github.com/google/uuid"
)

// GrantStatus is the lifecycle state of a grant as derived from its
// application window, not the publication state of the local record.
type GrantStatus string

const (
	GrantActive   GrantStatus = "active"
	GrantUpcoming GrantStatus = "upcoming"
	GrantClosed   GrantStatus = "closed"
)

// Nationwide is the sentinel prefecture for grants without a regional
// restriction. It is a real taxonomy term, not an absence marker.
const Nationwide = "全国"

// Grant is the canonical, post-normalization shape of a subsidy fetched
// from the remote source. ExternalID is the identity key: the pipeline
// never creates two local records for the same ExternalID.
type Grant struct {
	ExternalID   string `json:"external_id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Organization string `json:"organization"`
	Purpose      string `json:"purpose"`
	Target       string `json:"target"`

	// Amounts are integer yen; 0 means unknown.
	MaxAmount int64 `json:"max_amount"`
	MinAmount int64 `json:"min_amount"`

	// SubsidyRate is kept as the source's free-text form ("1/2", "2/3以内").
	SubsidyRate string `json:"subsidy_rate"`

	ApplicationStart *time.Time  `json:"application_start"`
	Deadline         *time.Time  `json:"deadline"`
	Status           GrantStatus `json:"status"`

	// Category may name a category the content store has never seen;
	// taxonomy assignment uses get-or-create semantics.
	Category    string   `json:"category"`
	Prefectures []string `json:"prefectures"`

	Industry        string `json:"industry"`
	TargetArea      string `json:"target_area"`
	TargetEmployees string `json:"target_employees"`
	OfficialURL     string `json:"official_url"`
}

// DeriveStatus resolves the grant lifecycle state against now.
// A missing deadline never closes a grant; a missing start never
// defers one.
func DeriveStatus(applicationStart, deadline *time.Time, now time.Time) GrantStatus {
	if deadline != nil && deadline.Before(now) {
		return GrantClosed
	}
	if applicationStart != nil && applicationStart.After(now) {
		return GrantUpcoming
	}
	return GrantActive
}

// RecordStatus is the publication state of a local content record.
// It is a superset of GrantStatus: closed grants map to expired records.
type RecordStatus string

const (
	RecordDraft     RecordStatus = "draft"
	RecordPublished RecordStatus = "publish"
	RecordScheduled RecordStatus = "future"
	RecordExpired   RecordStatus = "expired"
)

// ContentRecord is the locally stored, publishable rendition of a grant.
// Meta mirrors Grant attributes under underscore-prefixed keys so the
// namespace stays clear of host-owned fields.
type ContentRecord struct {
	ID            uuid.UUID         `json:"id"`
	ExternalID    string            `json:"external_id"`
	Status        RecordStatus      `json:"status"`
	Title         string            `json:"title"`
	Body          string            `json:"body"`
	Excerpt       string            `json:"excerpt"`
	Meta          map[string]string `json:"meta"`
	AIGeneratedAt *time.Time        `json:"ai_generated_at"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Meta keys mirroring the grant attributes on a content record.
const (
	MetaExternalID       = "_subsidy_id"
	MetaOrganization     = "_organization"
	MetaMaxAmount        = "_max_amount"
	MetaMinAmount        = "_min_amount"
	MetaSubsidyRate      = "_subsidy_rate"
	MetaTarget           = "_target"
	MetaPurpose          = "_purpose"
	MetaDeadline         = "_deadline"
	MetaApplicationStart = "_application_start"
	MetaOfficialURL      = "_official_url"
	MetaGrantStatus      = "_grant_status"
	MetaIndustry         = "_industry"
	MetaTargetArea       = "_target_area"
	MetaTargetEmployees  = "_target_employees"
	MetaLastSynced       = "_last_synced"
)

// Taxonomy names understood by the content store.
const (
	TaxonomyCategory    = "grant_category"
	TaxonomyPrefecture  = "prefecture"
	TaxonomyTarget      = "grant_target"
	TaxonomyAmountRange = "amount_range"
)

// TaxonomyTerm is a named tag within one categorical dimension.
// Names are case-sensitive exact keys, unique per taxonomy.
type TaxonomyTerm struct {
	ID       int64  `json:"id"`
	Taxonomy string `json:"taxonomy"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	ParentID *int64 `json:"parent_id"`
}

// RunStatus is the ledger state of a sync run.
type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunSuccess    RunStatus = "success"
	RunError      RunStatus = "error"
)

// RunStats are the per-run counters surfaced to callers and persisted
// on the terminal ledger update.
type RunStats struct {
	Fetched     int `json:"fetched"`
	Created     int `json:"created"`
	Updated     int `json:"updated"`
	Errors      int `json:"errors"`
	AIGenerated int `json:"ai_generated"`
}

// SyncRun is one ledger entry. Exactly one terminal update per run;
// terminal entries are immutable.
type SyncRun struct {
	RunID        uuid.UUID  `json:"run_id"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	Status       RunStatus  `json:"status"`
	Stats        RunStats   `json:"stats"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// LedgerStatistics is the dashboard summary derived from the store.
type LedgerStatistics struct {
	TotalContent  int `json:"total_content"`
	ActiveContent int `json:"active_content"`
	RunsToday     int `json:"runs_today"`
}
