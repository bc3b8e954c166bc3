package sync

import (
	"errors"
	"testing"
	"time"

	"github.com/aoki/jgrants-sync/internal/config"
	"github.com/aoki/jgrants-sync/internal/models"
)

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		Keyword:           "補助金",
		Sort:              "created_date",
		Order:             "DESC",
		Acceptance:        "0",
		MaxImportCount:    50,
		BatchSize:         10,
		BatchDelaySeconds: 5,
		AutoPublish:       false,
		UpdateExisting:    true,
	}
}

func TestResolveParamsDefaults(t *testing.T) {
	p, err := ResolveParams(testSyncConfig(), Overrides{})
	if err != nil {
		t.Fatalf("ResolveParams: %v", err)
	}
	if p.Keyword != "補助金" || p.MaxImportCount != 50 || p.BatchSize != 10 {
		t.Fatalf("defaults not carried: %+v", p)
	}
	if p.BatchDelay != 5*time.Second {
		t.Fatalf("batch delay = %v", p.BatchDelay)
	}
	if !p.UpdateExisting || p.AutoPublish {
		t.Fatalf("bool defaults wrong: %+v", p)
	}
}

func TestResolveParamsOverrides(t *testing.T) {
	truth := true
	falsehood := false
	p, err := ResolveParams(testSyncConfig(), Overrides{
		Keyword:        "ものづくり",
		MaxImportCount: 5,
		AutoPublish:    &truth,
		UpdateExisting: &falsehood,
	})
	if err != nil {
		t.Fatalf("ResolveParams: %v", err)
	}
	if p.Keyword != "ものづくり" || p.MaxImportCount != 5 {
		t.Fatalf("overrides not applied: %+v", p)
	}
	if !p.AutoPublish || p.UpdateExisting {
		t.Fatalf("bool overrides not applied: %+v", p)
	}
	// Untouched fields keep their defaults.
	if p.Sort != "created_date" || p.BatchSize != 10 {
		t.Fatalf("defaults lost: %+v", p)
	}
}

func TestResolveParamsKeywordValidation(t *testing.T) {
	cfg := testSyncConfig()
	cfg.Keyword = ""
	for _, kw := range []string{"", " ", "あ"} {
		_, err := ResolveParams(cfg, Overrides{Keyword: kw})
		if !errors.Is(err, models.ErrValidation) {
			t.Errorf("keyword %q: err = %v, want ErrValidation", kw, err)
		}
	}

	// Two characters is the minimum, regardless of script.
	if _, err := ResolveParams(cfg, Overrides{Keyword: "あい"}); err != nil {
		t.Errorf("2-rune keyword rejected: %v", err)
	}
}

func TestResolveParamsRejectsNegativeCounts(t *testing.T) {
	if _, err := ResolveParams(testSyncConfig(), Overrides{BatchSize: -1}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("negative batch size: err = %v, want ErrValidation", err)
	}
	if _, err := ResolveParams(testSyncConfig(), Overrides{MaxImportCount: -5}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("negative import count: err = %v, want ErrValidation", err)
	}
}

func TestResolveParamsAIAndForceFlags(t *testing.T) {
	p, err := ResolveParams(testSyncConfig(), Overrides{})
	if err != nil {
		t.Fatalf("ResolveParams: %v", err)
	}
	if !p.GenerateAI || p.ForceUpdate {
		t.Fatalf("flag defaults wrong: %+v", p)
	}

	off := false
	p, err = ResolveParams(testSyncConfig(), Overrides{GenerateAI: &off, ForceUpdate: true})
	if err != nil {
		t.Fatalf("ResolveParams: %v", err)
	}
	if p.GenerateAI || !p.ForceUpdate {
		t.Fatalf("flag overrides not applied: %+v", p)
	}
}
