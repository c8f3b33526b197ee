package stack

import "encoding/json"

// ConfigValue is a single configuration entry. Secret values are stored
// encrypted by the engine; the flag records how the value was set.
type ConfigValue struct {
	Value  string `json:"value"`
	Secret bool   `json:"secret"`
}

// ConfigMap maps configuration keys to values for one stack.
type ConfigMap map[string]ConfigValue

// OutputValue is one stack output. Value holds the plaintext JSON value;
// Secret reports whether the engine masks it in non-disclosing views.
type OutputValue struct {
	Value  interface{} `json:"value"`
	Secret bool        `json:"secret"`
}

// OutputMap maps output keys to values. It is produced fresh on every
// Outputs call and never cached.
type OutputMap map[string]OutputValue

// UpdateKind is the operation kind recorded in an update summary.
type UpdateKind string

const (
	UpdateKindUpdate  UpdateKind = "update"
	UpdateKindPreview UpdateKind = "preview"
	UpdateKindRefresh UpdateKind = "refresh"
	UpdateKindRename  UpdateKind = "rename"
	UpdateKindDestroy UpdateKind = "destroy"
	UpdateKindImport  UpdateKind = "import"
)

// UpdateStatus is the result state of one update.
type UpdateStatus string

const (
	StatusNotStarted UpdateStatus = "not-started"
	StatusInProgress UpdateStatus = "in-progress"
	StatusSucceeded  UpdateStatus = "succeeded"
	StatusFailed     UpdateStatus = "failed"
)

// OpType classifies a per-resource step inside an update.
type OpType string

const (
	OpSame              OpType = "same"
	OpCreate            OpType = "create"
	OpUpdate            OpType = "update"
	OpDelete            OpType = "delete"
	OpReplace           OpType = "replace"
	OpCreateReplacement OpType = "create-replacement"
	OpDeleteReplaced    OpType = "delete-replaced"
)

// UpdateSummary is one immutable historical (or in-flight) update record, as
// reported by the engine's history feed. Timestamps are kept in the engine's
// own string encoding rather than reparsed.
type UpdateSummary struct {
	Kind        UpdateKind        `json:"kind"`
	StartTime   string            `json:"startTime"`
	Message     string            `json:"message"`
	Environment map[string]string `json:"environment"`
	Config      ConfigMap         `json:"config"`

	// Fields below are absent while an update is still in flight.
	Result          UpdateStatus    `json:"result,omitempty"`
	EndTime         string          `json:"endTime,omitempty"`
	Version         int             `json:"version,omitempty"`
	Deployment      json.RawMessage `json:"Deployment,omitempty"`
	ResourceChanges map[OpType]int  `json:"resourceChanges,omitempty"`
}

// UpResult is the outcome of a successful Up.
type UpResult struct {
	Stdout  string
	Stderr  string
	Outputs OutputMap
	// Summary is the engine's most recent history record, or nil when the
	// engine reports no history.
	Summary *UpdateSummary
}

// PreviewResult is the outcome of a successful Preview.
type PreviewResult struct {
	Stdout  string
	Stderr  string
	Summary *UpdateSummary
}

// RefreshResult is the outcome of a successful Refresh.
type RefreshResult struct {
	Stdout  string
	Stderr  string
	Summary *UpdateSummary
}

// DestroyResult is the outcome of a successful Destroy.
type DestroyResult struct {
	Stdout  string
	Stderr  string
	Summary *UpdateSummary
}
