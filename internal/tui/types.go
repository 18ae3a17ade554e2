package tui

// TaskItem is a summary of a queue task for the list view
type TaskItem struct {
	ID         string
	TaskType   string
	Status     string
	Priority   int
	AssignedTo string
}

// LockItem is a summary of an active lock
type LockItem struct {
	ResourceKey string
	OwnerID     string
	Reason      string
	ExpiresAt   string
}

// AgentItem is a summary of a registered agent session
type AgentItem struct {
	SessionID     string
	AgentID       string
	AgentType     string
	Status        string
	LastHeartbeat string
}

// HandoffItem is a summary of a handoff document
type HandoffItem struct {
	AgentName string
	Summary   string
	CreatedAt string
}
