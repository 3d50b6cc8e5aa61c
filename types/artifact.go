package types

// ArtifactKind declares how an uploaded payload should be interpreted.
type ArtifactKind string

const (
	ArtifactScript  ArtifactKind = "script"  // single JavaScript module
	ArtifactMarkup  ArtifactKind = "markup"  // single HTML document
	ArtifactArchive ArtifactKind = "archive" // zip archive with game.js at the root
)

// Artifact is an uploaded payload. It exists only for the duration of
// validation and synthesis and is never persisted.
type Artifact struct {
	Kind ArtifactKind
	Name string // original filename, informational only
	Data []byte
}

// Severity classifies a security finding.
type Severity string

const (
	SeverityHigh   Severity = "high"   // sandbox-escape capability, blocks the upload
	SeverityMedium Severity = "medium" // powerful but contained, reported only
	SeverityLow    Severity = "low"    // style / robustness, reported only
)

// Finding is one static-analysis result against an uploaded artifact.
type Finding struct {
	Pattern  string   `json:"pattern"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Line     int      `json:"line,omitempty"` // 1-based, 0 when unknown
}

// Definition is the synthesized build recipe for one instance: a
// materialized build context plus the image tag to build it under.
type Definition struct {
	Config InstanceConfig

	// ContextDir holds Dockerfile, scaffold, and the user module.
	ContextDir string

	// ImageTag is derived from the artifact digest so identical uploads
	// map to the same image name.
	ImageTag string
}
