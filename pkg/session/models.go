package session

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/askdb-io/askdb-engine/pkg/endpoint"
)

// Message roles.
const (
	RoleUser   = "user"
	RoleAgent  = "agent"
	RoleSystem = "system"
)

// AgentUserID is the synthetic author id for agent messages.
const AgentUserID = "agent"

// maxRecentQueries bounds the rolling query context kept per session.
const maxRecentQueries = 5

// StoredEndpoint is the persisted form of a session's last database target.
// It carries the normalized URL only; credentials never reach storage. The
// live URL, when known, lives in the manager's in-process cache.
type StoredEndpoint struct {
	NormalizedURL string        `bson:"normalizedUrl" json:"normalizedUrl"`
	Kind          endpoint.Kind `bson:"kind" json:"kind"`
}

// Context is the per-session conversational state.
type Context struct {
	LastDBEndpoint *StoredEndpoint `bson:"lastDbEndpoint,omitempty" json:"lastDbEndpoint,omitempty"`
	RecentQueries  []string        `bson:"recentQueries,omitempty" json:"recentQueries,omitempty"`
}

// Session is one persisted chat session. A session belongs to exactly one
// user; storage removes sessions whose lastActivity is older than the
// expiry window.
type Session struct {
	ID           string    `bson:"_id" json:"sessionId"`
	UserID       string    `bson:"userId" json:"userId"`
	Title        string    `bson:"title,omitempty" json:"title,omitempty"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
	LastActivity time.Time `bson:"lastActivity" json:"lastActivity"`
	MessageCount int       `bson:"messageCount" json:"messageCount"`
	Active       bool      `bson:"active" json:"active"`
	Context      Context   `bson:"context" json:"context"`
}

// MessageMetadata annotates agent messages with execution detail.
type MessageMetadata struct {
	QueryKind       string   `bson:"queryKind,omitempty" json:"queryKind,omitempty"`
	ExecutionMillis int64    `bson:"executionMillis,omitempty" json:"executionMillis,omitempty"`
	DataRetrieved   bool     `bson:"dataRetrieved,omitempty" json:"dataRetrieved,omitempty"`
	ToolsUsed       []string `bson:"toolsUsed,omitempty" json:"toolsUsed,omitempty"`
	Confidence      float64  `bson:"confidence,omitempty" json:"confidence,omitempty"`
}

// ChatMessage is one append-only turn entry within a session.
type ChatMessage struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID string             `bson:"sessionId" json:"sessionId"`
	UserID    string             `bson:"userId" json:"userId"`
	Text      string             `bson:"text" json:"text"`
	Role      string             `bson:"role" json:"role"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
	Metadata  *MessageMetadata   `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// pushRecentQuery appends text to the rolling window, evicting the oldest
// entry past the bound.
func (c *Context) pushRecentQuery(text string) {
	c.RecentQueries = append(c.RecentQueries, text)
	if len(c.RecentQueries) > maxRecentQueries {
		c.RecentQueries = c.RecentQueries[len(c.RecentQueries)-maxRecentQueries:]
	}
}
