package domain

import "time"

// Theme is a named policy category grouping one or more keyword patterns.
type Theme struct {
	ID        string    `gorm:"type:text;primaryKey" json:"id"`
	Name      string    `gorm:"type:text;not null;uniqueIndex" json:"name"`
	Color     string    `json:"color,omitempty"`
	Enabled   bool      `gorm:"default:true" json:"enabled"`
	Keywords  []Keyword `gorm:"foreignKey:ThemeID" json:"keywords,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Theme.
func (Theme) TableName() string {
	return "themes"
}

// Keyword is a single match pattern within a theme: a case-insensitive
// literal substring by default, or a regular expression when IsRegex is set.
type Keyword struct {
	ID      string `gorm:"type:text;primaryKey" json:"id"`
	ThemeID string `gorm:"type:text;not null;index" json:"theme_id"`
	Pattern string `gorm:"type:text;not null" json:"pattern"`
	IsRegex bool   `gorm:"default:false" json:"is_regex"`
}

// TableName returns the database table name for Keyword.
func (Keyword) TableName() string {
	return "keywords"
}
