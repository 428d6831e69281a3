// Package wsapi implements the real-time pub/sub feed that pushes job
// progress to connected admin UI clients over WebSocket. It uses
// gorilla/websocket and exposes a topic-based broadcast API consumed
// by internal/runner as jobs run.
//
// Topic naming convention:
//
//	job:<uuid>  — running-info snapshots and state transitions for one job
package wsapi

// MessageType identifies the kind of event carried by a Message.
type MessageType string

const (
	// MsgJobProgress carries a runninginfo.Snapshot for a running job.
	MsgJobProgress MessageType = "job.progress"

	// MsgJobState is sent when a job's Activity.State changes (WAITING,
	// RUNNING, DONE, ERROR, ABORTED, DISCONNECTED).
	MsgJobState MessageType = "job.state"
)

// Message is the envelope for every WebSocket frame sent to clients.
type Message struct {
	Type    MessageType `json:"type"`
	Topic   string      `json:"topic"`
	Payload any         `json:"payload"`
}

// JobTopic returns the pub/sub topic name for a job's progress feed.
func JobTopic(jobUUID string) string {
	return "job:" + jobUUID
}
