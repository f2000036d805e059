package domain

// MonitoredGroup is a Telegram chat whose messages the router considers,
// subject to mention gating.
type MonitoredGroup struct {
	ID          int64  `bson:"id" json:"id"`
	Title       string `bson:"title,omitempty" json:"title,omitempty"`
	WorkspaceID string `bson:"workspaceid,omitempty" json:"workspaceid,omitempty"`
	AgentID     string `bson:"agentid,omitempty" json:"agentid,omitempty"`
}
