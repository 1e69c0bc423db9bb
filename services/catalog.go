package services

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"guild-quest-rewards/models"

	"github.com/gosimple/slug"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is the seed file format for objective and achievement definitions.
type Catalog struct {
	Objectives   []ObjectiveSeed   `yaml:"objectives"`
	Achievements []AchievementSeed `yaml:"achievements"`
}

type ObjectiveSeed struct {
	Code         string `yaml:"code"`
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	Requirement  int64  `yaml:"requirement"`
	RewardAmount int64  `yaml:"reward_amount"`
	Icon         string `yaml:"icon"`
	Inactive     bool   `yaml:"inactive"`
}

type AchievementSeed struct {
	Code             string `yaml:"code"`
	Name             string `yaml:"name"`
	Description      string `yaml:"description"`
	RequirementType  string `yaml:"requirement_type"`
	RequirementValue string `yaml:"requirement_value"`
	RewardAmount     int64  `yaml:"reward_amount"`
	Icon             string `yaml:"icon"`
	Inactive         bool   `yaml:"inactive"`
}

// DefaultCatalog returns the built-in daily objectives and achievements.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog file; an empty path yields the default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a catalog document. Missing codes are
// derived from names.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	seen := map[string]bool{}
	for i := range cat.Objectives {
		o := &cat.Objectives[i]
		if strings.TrimSpace(o.Name) == "" {
			return nil, validationError("objective #%d has no name", i+1)
		}
		if o.Requirement <= 0 || o.RewardAmount < 0 {
			return nil, validationError("objective %q needs a positive requirement and non-negative reward", o.Name)
		}
		if o.Code == "" {
			o.Code = slug.Make(o.Name)
		}
		if seen["o:"+o.Code] {
			return nil, validationError("duplicate objective code %q", o.Code)
		}
		seen["o:"+o.Code] = true
	}
	for i := range cat.Achievements {
		a := &cat.Achievements[i]
		if strings.TrimSpace(a.Name) == "" {
			return nil, validationError("achievement #%d has no name", i+1)
		}
		if a.RequirementType == "" || a.RewardAmount < 0 {
			return nil, validationError("achievement %q needs a requirement type and non-negative reward", a.Name)
		}
		if a.Code == "" {
			a.Code = slug.Make(a.Name)
		}
		if seen["a:"+a.Code] {
			return nil, validationError("duplicate achievement code %q", a.Code)
		}
		seen["a:"+a.Code] = true
	}
	return &cat, nil
}

// SeedCatalog upserts every definition by code. Ids of existing rows are kept,
// so progress and unlock rows stay attached.
func SeedCatalog(ctx context.Context, db *gorm.DB, cat *Catalog) error {
	return seedCatalog(ctx, db, cat, true)
}

// SeedMissing inserts definitions whose code is not stored yet and leaves
// existing rows untouched, so operator edits survive a restart.
func SeedMissing(ctx context.Context, db *gorm.DB, cat *Catalog) error {
	return seedCatalog(ctx, db, cat, false)
}

func seedCatalog(ctx context.Context, db *gorm.DB, cat *Catalog, overwrite bool) error {
	onCode := func(columns ...string) clause.OnConflict {
		conflict := clause.OnConflict{Columns: []clause.Column{{Name: "code"}}}
		if overwrite {
			conflict.DoUpdates = clause.AssignmentColumns(columns)
		} else {
			conflict.DoNothing = true
		}
		return conflict
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, o := range cat.Objectives {
			def := models.ObjectiveDefinition{
				Code:         o.Code,
				Name:         o.Name,
				Description:  o.Description,
				Requirement:  o.Requirement,
				RewardAmount: o.RewardAmount,
				Icon:         o.Icon,
				IsActive:     !o.Inactive,
			}
			if err := tx.Clauses(onCode("name", "description", "requirement", "reward_amount", "icon", "is_active", "updated_at")).
				Create(&def).Error; err != nil {
				return fmt.Errorf("seed objective %s: %w", o.Code, err)
			}
		}
		for _, a := range cat.Achievements {
			def := models.AchievementDefinition{
				Code:             a.Code,
				Name:             a.Name,
				Description:      a.Description,
				RequirementType:  a.RequirementType,
				RequirementValue: a.RequirementValue,
				RewardAmount:     a.RewardAmount,
				Icon:             a.Icon,
				IsActive:         !a.Inactive,
			}
			if err := tx.Clauses(onCode("name", "description", "requirement_type", "requirement_value", "reward_amount", "icon", "is_active", "updated_at")).
				Create(&def).Error; err != nil {
				return fmt.Errorf("seed achievement %s: %w", a.Code, err)
			}
		}
		return nil
	})
}
