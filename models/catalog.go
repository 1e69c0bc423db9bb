package models

// ObjectiveDefinition is a daily objective from the catalog. Seeded out of band.
type ObjectiveDefinition struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Code         string `gorm:"uniqueIndex;not null" json:"code"` // slug of Name, e.g. "complete-10k-steps"
	Name         string `gorm:"not null" json:"name"`
	Description  string `gorm:"type:text" json:"description"`
	Requirement  int64  `gorm:"not null" json:"requirement"`
	RewardAmount int64  `gorm:"not null" json:"reward_amount"`
	Icon         string `gorm:"size:64" json:"icon"`
	IsActive     bool   `gorm:"not null;index" json:"is_active"`
	Timestamps
}

// Requirement types the achievement evaluator understands. Anything else is
// unlocked only by an external trigger.
const (
	RequirementObjectivesCompleted = "objectives_completed" // value: total completed objective-days
	RequirementObjectiveCompleted  = "objective_completed"  // value: objective id or code
	RequirementFeature             = "feature"              // value: client feature name
)

// AchievementDefinition is a one-time achievement from the catalog.
type AchievementDefinition struct {
	ID               uint   `gorm:"primaryKey" json:"id"`
	Code             string `gorm:"uniqueIndex;not null" json:"code"`
	Name             string `gorm:"not null" json:"name"`
	Description      string `gorm:"type:text" json:"description"`
	RequirementType  string `gorm:"size:64;not null" json:"requirement_type"`
	RequirementValue string `gorm:"size:255" json:"requirement_value"`
	RewardAmount     int64  `gorm:"not null" json:"reward_amount"`
	Icon             string `gorm:"size:64" json:"icon"`
	IsActive         bool   `gorm:"not null;index" json:"is_active"`
	Timestamps
}
