package entity

// SourceKind names a context-manifest source variant (§3.1, §4.3).
type SourceKind string

const (
	SourceFile         SourceKind = "file"
	SourceComputedFile SourceKind = "computed_file"
	SourceJournal      SourceKind = "journal"
)

// OnMissingPolicy controls what Context Builder does when a `file` source's
// path does not exist.
type OnMissingPolicy string

const (
	OnMissingError OnMissingPolicy = "error"
	OnMissingSkip  OnMissingPolicy = "skip"
	OnMissingEmpty OnMissingPolicy = "empty"
)

// OnErrorPolicy controls what Context Builder does when a `computed_file`
// source's command exits non-zero.
type OnErrorPolicy string

const (
	OnErrorFail   OnErrorPolicy = "fail"
	OnErrorInsert OnErrorPolicy = "insert"
)

// ManifestSource is one entry in a context manifest.
type ManifestSource struct {
	Kind SourceKind `yaml:"kind"`

	// file / computed_file
	Path      string          `yaml:"path,omitempty"`
	Role      string          `yaml:"role,omitempty"` // "system" | "user"
	OnMissing OnMissingPolicy `yaml:"on_missing,omitempty"`

	// computed_file
	Command []string      `yaml:"command,omitempty"`
	OnError OnErrorPolicy `yaml:"on_error,omitempty"`
	CapBytes int          `yaml:"cap_bytes,omitempty"`

	// journal
	MaxIterations int `yaml:"max_iterations,omitempty"`
}

// Manifest is the ordered list of sources that together produce the
// message list sent to the LLM.
type Manifest struct {
	Sources []ManifestSource `yaml:"sources"`
}

// Message is one entry in the assembled LLM request message list.
type Message struct {
	Role       string               `json:"role"` // system | user | assistant | tool
	Content    string               `json:"content"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCallDescriptor `json:"tool_calls,omitempty"`
}
