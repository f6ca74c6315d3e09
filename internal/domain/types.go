package domain

import "time"

// Provenance keys stored in Dataset.Extras
const (
	ExtraName       = "harvest:name"
	ExtraDomain     = "harvest:domain"
	ExtraRemoteID   = "harvest:remote_id"
	ExtraSourceID   = "harvest:source_id"
	ExtraLastUpdate = "harvest:last_update"
)

// ItemKind tells static downloads apart from live map services
type ItemKind int

const (
	KindUnknown ItemKind = iota
	KindStatic
	KindLive
)

func (k ItemKind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindLive:
		return "live"
	}
	return "unknown"
}

// ResourceLink is one resource reference decoded from a harvested record
type ResourceLink struct {
	URL    string `json:"url"`
	Type   string `json:"type,omitempty"`
	Format string `json:"format,omitempty"`
}

// Item is a normalized record produced by a walker, consumed once by the mapper
type Item struct {
	RemoteID    string         `json:"remote_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Date        *time.Time     `json:"date,omitempty"`
	Resources   []ResourceLink `json:"resources,omitempty"`
	Keywords    []string       `json:"keywords,omitempty"`
	Kind        ItemKind       `json:"kind"`
}

// License is a registry entry datasets point to
type License struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	URL     string   `json:"url,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
}

// Resource is a downloadable or remote file attached to a dataset
type Resource struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	FileType string `json:"filetype"`
	Format   string `json:"format"`
}

// Dataset is the harvested inventory entry, keyed by source and remote id
type Dataset struct {
	ID           string            `json:"id"`
	SourceID     string            `json:"source_id"`
	RemoteID     string            `json:"remote_id"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	License      *License          `json:"license,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Resources    []Resource        `json:"resources"`
	Extras       map[string]string `json:"extras,omitempty"`
	Private      bool              `json:"private"`
	Deleted      *time.Time        `json:"deleted,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastModified time.Time         `json:"last_modified"`
}

// DatasetFilter narrows a dataset query. Deleted datasets are always excluded.
type DatasetFilter struct {
	Domain   string
	SourceID string
	RemoteID string
	Private  *bool
	Limit    int
}

// JobResult collects the datasets touched by one harvest job
type JobResult struct {
	SourceDomain string
	Touched      map[string]struct{}
}

// NewJobResult creates an empty result for a source domain
func NewJobResult(sourceDomain string) *JobResult {
	return &JobResult{
		SourceDomain: sourceDomain,
		Touched:      make(map[string]struct{}),
	}
}

// Touch records a dataset id as seen during the job
func (r *JobResult) Touch(datasetID string) {
	r.Touched[datasetID] = struct{}{}
}

// Has reports whether the job touched the dataset
func (r *JobResult) Has(datasetID string) bool {
	_, ok := r.Touched[datasetID]
	return ok
}

// JobStatus is the lifecycle state of a harvest job
type JobStatus string

const (
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// JobRecord is the persisted log of one harvest run
type JobRecord struct {
	ID        string     `json:"id"`
	Source    string     `json:"source"`
	Status    JobStatus  `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Items     int        `json:"items"`
	Failed    int        `json:"failed"`
	Stale     int        `json:"stale"`
	Error     string     `json:"error,omitempty"`
	Errors    []JobError `json:"errors,omitempty"`
}

// JobError is an item-level failure recorded against a job
type JobError struct {
	RemoteID  string    `json:"remote_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a directory entry used for notification fan-out
type User struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}
