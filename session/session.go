// Package session sequences one external edit from staging to delivered
// artifact.
//
// A Manager keeps a table of sessions keyed by handle. Begin stages the raw
// asset, restores recognized prior history into the sidecar and launches the
// interactive editor without waiting for it. The editor's exit is the only
// event that makes a session Ready; Finish then renders the final artifact,
// reads back the edit history and releases the staging directory. Every
// terminal path releases staging exactly once.
//
//	h, err := m.Begin(ctx, session.Input{SourcePath: raw}, prior)
//	<-ready
//	res, err := m.Finish(ctx, h)
package session

import (
	"context"
	"sync"
	"time"

	"github.com/tailored-agentic-units/darkroom/adjustment"
	"github.com/tailored-agentic-units/darkroom/process"
	"github.com/tailored-agentic-units/darkroom/staging"
)

// Input is the host's request to edit one asset.
type Input struct {
	// SourcePath is the readable raw file to edit.
	SourcePath string `json:"source_path"`
	// OutputPath is where the final artifact is delivered. When empty the
	// artifact goes to Config.OutputDir.
	OutputPath string `json:"output_path,omitempty"`
	// Token is opaque host context handed back in the Result.
	Token string `json:"token,omitempty"`
}

// Result is the outcome of a completed session.
type Result struct {
	Handle       string           `json:"handle"`
	ArtifactPath string           `json:"artifact_path"`
	Adjustment   *adjustment.Blob `json:"adjustment,omitempty"` // nil when no history could be read back
	Token        string           `json:"token,omitempty"`
}

// Info is a point-in-time view of a session.
type Info struct {
	Handle          string    `json:"handle"`
	State           State     `json:"state"`
	SourcePath      string    `json:"source_path"`
	StagingDir      string    `json:"staging_dir,omitempty"`
	WorkingCopy     string    `json:"working_copy,omitempty"`
	Sidecar         string    `json:"sidecar,omitempty"`
	Preview         string    `json:"preview,omitempty"`
	PriorRecognized bool      `json:"prior_recognized"`
	ExitCode        *int      `json:"exit_code,omitempty"`
	Created         time.Time `json:"created"`
	Err             error     `json:"-"`
}

// Workspace is one session's staging directory.
type Workspace interface {
	Path() string
	Stage(ctx context.Context, source string) (string, error)
	Release(ctx context.Context) error
}

// Stager creates workspaces.
type Stager interface {
	Create(ctx context.Context, id string) (Workspace, error)
}

// Renderer produces an artifact from a raw file and its sidecar.
type Renderer interface {
	Render(ctx context.Context, raw, sidecar string) (string, error)
}

// StagingArea adapts a staging.Area to Stager.
func StagingArea(a *staging.Area) Stager {
	return areaStager{area: a}
}

type areaStager struct {
	area *staging.Area
}

func (s areaStager) Create(ctx context.Context, id string) (Workspace, error) {
	d, err := s.area.Create(ctx, id)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// editSession is the table entry for one handle. Terminal sessions keep
// their record, without resources, until forgotten.
type editSession struct {
	handle  string
	input   Input
	prior   *adjustment.Blob
	created time.Time

	mu          sync.Mutex
	state       State
	err         error
	dir         Workspace
	released    bool
	raw         string
	sidecar     string
	preview     string
	recognized  bool
	tool        process.Handle
	exit        *process.Exit
	cancelled   bool
	ready       chan struct{}
	readyClosed bool
}

func newEditSession(handle string, input Input, prior *adjustment.Blob) *editSession {
	return &editSession{
		handle:  handle,
		input:   input,
		prior:   prior,
		created: time.Now(),
		state:   Idle,
		ready:   make(chan struct{}),
	}
}

// closeReady wakes waiters. Callers hold s.mu.
func (s *editSession) closeReady() {
	if !s.readyClosed {
		close(s.ready)
		s.readyClosed = true
	}
}

func (s *editSession) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		Handle:          s.handle,
		State:           s.state,
		SourcePath:      s.input.SourcePath,
		WorkingCopy:     s.raw,
		Sidecar:         s.sidecar,
		Preview:         s.preview,
		PriorRecognized: s.recognized,
		Created:         s.created,
		Err:             s.err,
	}
	if s.dir != nil && !s.released {
		info.StagingDir = s.dir.Path()
	}
	if s.exit != nil {
		code := s.exit.Code
		info.ExitCode = &code
	}
	return info
}
