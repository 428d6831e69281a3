package wsapi

import (
	"github.com/coldroot-labs/barc/internal/job"
	"github.com/coldroot-labs/barc/internal/runninginfo"
)

// Publisher adapts a Hub to the shapes internal/runner produces,
// keeping runner free of any dependency on the wire message format.
type Publisher struct {
	hub *Hub
}

// NewPublisher returns a Publisher backed by hub. A nil *Hub is valid
// and makes every publish a no-op, so callers that run without the
// HTTP admin surface enabled need no special casing.
func NewPublisher(hub *Hub) *Publisher {
	return &Publisher{hub: hub}
}

// PublishSnapshot broadcasts a progress snapshot on the job's topic.
func (p *Publisher) PublishSnapshot(jobUUID string, s runninginfo.Snapshot) {
	if p == nil || p.hub == nil {
		return
	}
	p.hub.Publish(JobTopic(jobUUID), Message{
		Type:  MsgJobProgress,
		Topic: JobTopic(jobUUID),
		Payload: struct {
			FilesDone   uint64 `json:"filesDone"`
			FilesTotal  uint64 `json:"filesTotal"`
			BytesDone   uint64 `json:"bytesDone"`
			BytesTotal  uint64 `json:"bytesTotal"`
			CurrentFile string `json:"currentFile"`
			ErrorCount  uint64 `json:"errorCount"`
		}{s.FilesDone, s.FilesTotal, s.BytesDone, s.BytesTotal, s.CurrentFile, s.ErrorCount},
	})
}

// PublishState broadcasts a job state transition on the job's topic.
func (p *Publisher) PublishState(jobUUID string, state job.State) {
	if p == nil || p.hub == nil {
		return
	}
	p.hub.Publish(JobTopic(jobUUID), Message{
		Type:  MsgJobState,
		Topic: JobTopic(jobUUID),
		Payload: struct {
			State string `json:"state"`
		}{state.String()},
	})
}
