// Package memory persists per-user query history and the aggregated profile
// driving personalization: skill level, frequent collections, pattern
// counters, and common mistakes.
package memory

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Query kinds recorded per turn.
const (
	KindRead         = "read"
	KindReadOne      = "readOne"
	KindCount        = "count"
	KindAggregate    = "aggregate"
	KindSQL          = "sql"
	KindInsert       = "insert"
	KindUpdate       = "update"
	KindDelete       = "delete"
	KindConversation = "conversation"
)

// Skill levels, in promotion order.
const (
	SkillBeginner     = "beginner"
	SkillIntermediate = "intermediate"
	SkillAdvanced     = "advanced"
)

// Successful-record counts that trigger a promotion once strictly exceeded.
const (
	intermediateThreshold = 50
	advancedThreshold     = 150
)

// Feedback values.
const (
	FeedbackPositive = "+"
	FeedbackNegative = "-"
)

// Record captures one executed turn. Immutable after write except for
// Feedback.
type Record struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	UserID              string             `bson:"userId" json:"userId"`
	DBKey               string             `bson:"dbKey" json:"dbKey"`
	OriginalText        string             `bson:"originalText" json:"originalText"`
	QueryDescription    string             `bson:"generatedQueryDescription" json:"generatedQueryDescription"`
	QueryKind           string             `bson:"queryKind" json:"queryKind"`
	CollectionsOrTables []string           `bson:"collectionsOrTables" json:"collectionsOrTables"`
	ExecutionMillis     int64              `bson:"executionMillis" json:"executionMillis"`
	ResultCount         int                `bson:"resultCount" json:"resultCount"`
	Succeeded           bool               `bson:"succeeded" json:"succeeded"`
	Feedback            string             `bson:"feedback,omitempty" json:"feedback,omitempty"`
	ContextTags         []string           `bson:"contextTags,omitempty" json:"contextTags,omitempty"`
	PatternLabel        string             `bson:"patternLabel" json:"patternLabel"`
	Timestamp           time.Time          `bson:"timestamp" json:"timestamp"`
}

// PatternCounter tracks how often a user exercises one query pattern.
type PatternCounter struct {
	Label    string    `bson:"label" json:"label"`
	Count    int       `bson:"count" json:"count"`
	LastUsed time.Time `bson:"lastUsed" json:"lastUsed"`
}

// Profile is the aggregated per-user state. The user id is the document key.
type Profile struct {
	UserID              string           `bson:"_id" json:"userId"`
	FrequentCollections []string         `bson:"frequentCollections" json:"frequentCollections"`
	PatternCounters     []PatternCounter `bson:"patternCounters" json:"patternCounters"`
	SkillLevel          string           `bson:"skillLevel" json:"skillLevel"`
	PreferredDetail     string           `bson:"preferredDetail" json:"preferredDetail"`
	CommonMistakes      []string         `bson:"commonMistakes" json:"commonMistakes"`
	SuccessfulQueries   int              `bson:"successfulQueries" json:"successfulQueries"`
	UpdatedAt           time.Time        `bson:"updatedAt" json:"updatedAt"`
}

// Insights is the personalization context handed to the planner and echoed
// in verbose responses.
type Insights struct {
	SimilarQueries      int      `json:"similarQueries"`
	SkillLevel          string   `json:"skillLevel"`
	PatternLabel        string   `json:"patternLabel"`
	FrequentCollections []string `json:"frequentCollections,omitempty"`
}

// PatternLabelFor derives the pattern label recorded for a turn.
func PatternLabelFor(queryKind string, targets []string) string {
	target := "n/a"
	if len(targets) > 0 && targets[0] != "" {
		target = targets[0]
	}
	return queryKind + ":" + target
}
