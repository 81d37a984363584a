package transfer

import (
	"fmt"
	"log/slog"
	"time"

	"digital.vasic.vfs/pkg/client"
)

const (
	// DefaultBlockSize is used when neither the request nor the source
	// backend chooses a block size.
	DefaultBlockSize = 64 * 1024
	// DefaultProgressInterval is the minimum delay between byte-level ticks.
	DefaultProgressInterval = 100 * time.Millisecond
	// DirectoryOverhead is the byte estimate the preflight adds per directory.
	DirectoryOverhead = 1024
)

// Options is a set of transfer flags.
type Options uint

const (
	Recursive Options = 1 << iota
	// RemoveSource requests move semantics.
	RemoveSource
	UseUniqueNames
	FollowSymlinks
	// SameFilesystemOnly refuses the copy and delete fallback of a move.
	SameFilesystemOnly
	// Verify compares BLAKE3 digests of source and target after each file.
	Verify
)

// Has reports whether all flags in o are set.
func (opts Options) Has(o Options) bool {
	return opts&o == o
}

// ErrorMode selects what happens when a backend operation fails.
type ErrorMode int

const (
	ErrorModeAbort ErrorMode = iota
	ErrorModeQuery
)

// OverwriteMode selects what happens when a target entry already exists.
type OverwriteMode int

const (
	OverwriteAbort OverwriteMode = iota
	OverwriteReplace
	OverwriteSkip
	OverwriteQuery
)

var overwriteModeNames = map[OverwriteMode]string{
	OverwriteAbort:   "abort",
	OverwriteReplace: "replace",
	OverwriteSkip:    "skip",
	OverwriteQuery:   "query",
}

func (m OverwriteMode) String() string {
	if s, ok := overwriteModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("OverwriteMode(%d)", int(m))
}

// ParseOverwriteMode parses the names printed by OverwriteMode.String.
func ParseOverwriteMode(s string) (OverwriteMode, error) {
	for m, name := range overwriteModeNames {
		if name == s {
			return m, nil
		}
	}
	return OverwriteAbort, fmt.Errorf("unknown overwrite mode %q (want abort, replace, skip or query)", s)
}

func (m ErrorMode) String() string {
	switch m {
	case ErrorModeAbort:
		return "abort"
	case ErrorModeQuery:
		return "query"
	}
	return fmt.Sprintf("ErrorMode(%d)", int(m))
}

// ParseErrorMode parses "abort" or "query".
func ParseErrorMode(s string) (ErrorMode, error) {
	switch s {
	case "abort":
		return ErrorModeAbort, nil
	case "query":
		return ErrorModeQuery, nil
	}
	return ErrorModeAbort, fmt.Errorf("unknown error mode %q (want abort or query)", s)
}

// Pair names one item inside Request.SourceDir and the name it gets inside
// Request.TargetDir.
type Pair struct {
	Source string
	Target string
}

// NewPairs zips source and target names. An empty targets list reuses the
// source names.
func NewPairs(sources, targets []string) ([]Pair, error) {
	if len(targets) == 0 {
		targets = sources
	}
	if len(sources) != len(targets) {
		return nil, fmt.Errorf("got %d source names and %d target names", len(sources), len(targets))
	}
	pairs := make([]Pair, len(sources))
	for i := range sources {
		pairs[i] = Pair{Source: sources[i], Target: targets[i]}
	}
	return pairs, nil
}

// Request describes one transfer. It is not modified by Transfer.
type Request struct {
	Source    client.Client
	Target    client.Client
	SourceDir string
	TargetDir string
	Items     []Pair

	Options       Options
	ErrorMode     ErrorMode
	OverwriteMode OverwriteMode

	// Handler receives progress and answers queries. Nil aborts on errors
	// and conflicts and accepts proposed unique names.
	Handler Handler
	Logger  *slog.Logger

	ProgressInterval time.Duration
	// BlockSize overrides the block size chosen by the source backend.
	BlockSize int
	// BandwidthLimit caps throughput in bytes per second. Zero is unlimited.
	BandwidthLimit int64
	// Exclude holds glob patterns matched against paths relative to
	// SourceDir. Patterns without a slash match the base name.
	Exclude []string
}

func (r *Request) validate() error {
	if r.Source == nil || r.Target == nil {
		return fmt.Errorf("transfer request needs a source and a target client")
	}
	for _, p := range r.Items {
		if p.Source == "" || p.Target == "" {
			return fmt.Errorf("transfer request has an empty item name")
		}
	}
	if r.BandwidthLimit < 0 {
		return fmt.Errorf("negative bandwidth limit %d", r.BandwidthLimit)
	}
	return nil
}
