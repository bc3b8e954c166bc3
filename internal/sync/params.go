package sync

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aoki/jgrants-sync/internal/config"
	"github.com/aoki/jgrants-sync/internal/models"
)

// RunParams are the fully resolved knobs for one sync run. They are
// merged from configured defaults exactly once, at run start; a run
// never rereads configuration midway.
type RunParams struct {
	Keyword    string
	Sort       string
	Order      string
	Acceptance string

	MaxImportCount int
	BatchSize      int
	BatchDelay     time.Duration

	AutoPublish    bool
	UpdateExisting bool
	ForceUpdate    bool
	GenerateAI     bool
}

// Overrides carries per-request parameter overrides. Nil and zero
// fields keep the configured default.
type Overrides struct {
	Keyword        string `json:"keyword"`
	Sort           string `json:"sort"`
	Order          string `json:"order"`
	Acceptance     string `json:"acceptance"`
	MaxImportCount int    `json:"max_import_count"`
	BatchSize      int    `json:"batch_size"`
	AutoPublish    *bool  `json:"auto_publish"`
	UpdateExisting *bool  `json:"update_existing"`
	ForceUpdate    bool   `json:"force_update"`
	GenerateAI     *bool  `json:"generate_ai"`
}

// ResolveParams merges overrides on top of the configured sync
// defaults and validates the result.
func ResolveParams(cfg config.SyncConfig, ov Overrides) (RunParams, error) {
	p := RunParams{
		Keyword:        cfg.Keyword,
		Sort:           cfg.Sort,
		Order:          cfg.Order,
		Acceptance:     cfg.Acceptance,
		MaxImportCount: cfg.MaxImportCount,
		BatchSize:      cfg.BatchSize,
		BatchDelay:     time.Duration(cfg.BatchDelaySeconds) * time.Second,
		AutoPublish:    cfg.AutoPublish,
		UpdateExisting: cfg.UpdateExisting,
		GenerateAI:     true,
	}

	if ov.MaxImportCount < 0 || ov.BatchSize < 0 {
		return p, fmt.Errorf("%w: batch sizes must be positive", models.ErrValidation)
	}

	if s := strings.TrimSpace(ov.Keyword); s != "" {
		p.Keyword = s
	}
	if s := strings.TrimSpace(ov.Sort); s != "" {
		p.Sort = s
	}
	if s := strings.TrimSpace(ov.Order); s != "" {
		p.Order = s
	}
	if s := strings.TrimSpace(ov.Acceptance); s != "" {
		p.Acceptance = s
	}
	if ov.MaxImportCount > 0 {
		p.MaxImportCount = ov.MaxImportCount
	}
	if ov.BatchSize > 0 {
		p.BatchSize = ov.BatchSize
	}
	if ov.AutoPublish != nil {
		p.AutoPublish = *ov.AutoPublish
	}
	if ov.UpdateExisting != nil {
		p.UpdateExisting = *ov.UpdateExisting
	}
	p.ForceUpdate = ov.ForceUpdate
	if ov.GenerateAI != nil {
		p.GenerateAI = *ov.GenerateAI
	}

	if utf8.RuneCountInString(strings.TrimSpace(p.Keyword)) < 2 {
		return p, fmt.Errorf("%w: keyword must be at least 2 characters", models.ErrValidation)
	}
	if p.MaxImportCount <= 0 {
		p.MaxImportCount = 50
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 10
	}
	return p, nil
}
