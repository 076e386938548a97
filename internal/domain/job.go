package domain

import "time"

// Origin identifies which kind of collector produced an item.
type Origin string

const (
	OriginMail Origin = "mail"
	OriginWeb  Origin = "web"
)

// Status enumerates pipeline job states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further automatic transition happens from s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// CollectedItem is a candidate produced by a collector. Immutable once created.
type CollectedItem struct {
	URL         string
	Title       string
	Origin      Origin
	SourceName  string
	CollectedAt time.Time
	Meta        map[string]string
}

// MetaMessageID keys the originating mail message id in CollectedItem.Meta.
// Deliver uses it to mark the source mail read after a successful send.
const MetaMessageID = "message_id"

// PipelineJob is the durable unit of work, keyed by fingerprint. A job is the
// sole owner of its audio file and external workspace for its lifetime.
type PipelineJob struct {
	Fingerprint     string
	URL             string
	Title           string
	Origin          Origin
	SourceRef       string
	Status          Status
	CollectRetries  int
	GenerateRetries int
	DeliverRetries  int
	LastError       string
	AudioPath       string
	WorkspaceID     string
	CollectedAt     time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// NewJob builds a PENDING job from a collected item. The stored URL is the
// canonical form so the fingerprint and the URL always agree.
func NewJob(item CollectedItem, now time.Time) PipelineJob {
	return PipelineJob{
		Fingerprint: Fingerprint(item.URL),
		URL:         CanonicalURL(item.URL),
		Title:       item.Title,
		Origin:      item.Origin,
		SourceRef:   item.Meta[MetaMessageID],
		Status:      StatusPending,
		CollectedAt: item.CollectedAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// RunSummary aggregates per-stage outcomes of one orchestrator run.
type RunSummary struct {
	RunID     string
	Collected int
	Admitted  int
	Skipped   int
	Generated int
	Delivered int
	Failed    int
}
