package transfer

import "fmt"

// Phase is a step of the transfer state machine.
type Phase int

const (
	PhaseInitial Phase = iota
	PhaseCollecting
	PhaseReadyToGo
	PhaseOpenSource
	PhaseOpenTarget
	PhaseCopying
	PhaseMoving
	PhaseDeleteSource
	PhaseVerifying
	PhaseFileCompleted
	PhaseCompleted
)

var phaseNames = [...]string{
	PhaseInitial:       "initial",
	PhaseCollecting:    "collecting",
	PhaseReadyToGo:     "ready",
	PhaseOpenSource:    "open-source",
	PhaseOpenTarget:    "open-target",
	PhaseCopying:       "copying",
	PhaseMoving:        "moving",
	PhaseDeleteSource:  "delete-source",
	PhaseVerifying:     "verifying",
	PhaseFileCompleted: "file-completed",
	PhaseCompleted:     "completed",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Status tells the handler why it is being called.
type Status int

const (
	StatusOk Status = iota
	StatusBackendError
	StatusOverwrite
	StatusDuplicate
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusBackendError:
		return "backend-error"
	case StatusOverwrite:
		return "overwrite"
	case StatusDuplicate:
		return "duplicate"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ProgressInfo is the state of a running transfer. Handlers receive a copy.
type ProgressInfo struct {
	Phase  Phase
	Status Status

	SourceName string
	TargetName string

	// FileIndex counts completed files and created directories.
	FileIndex  int64
	FilesTotal int64
	BytesTotal int64

	FileSize         int64
	BytesCopied      int64
	TotalBytesCopied int64

	// DuplicateName and DuplicateCount are set while a unique name is chosen.
	DuplicateName  string
	DuplicateCount int
}

// Percent returns the share of BytesTotal copied so far.
func (p *ProgressInfo) Percent() float64 {
	if p.BytesTotal <= 0 {
		return 0
	}
	pct := float64(p.TotalBytesCopied) / float64(p.BytesTotal) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// TickAction answers an ordinary progress callback.
type TickAction int

const (
	TickContinue TickAction = iota
	TickAbort
)

// ErrorAction answers a failed backend operation.
type ErrorAction int

const (
	ErrorAbort ErrorAction = iota
	ErrorRetry
	ErrorSkip
)

// OverwriteAction answers a name conflict in OverwriteQuery mode.
type OverwriteAction int

const (
	OverwriteActionAbort OverwriteAction = iota
	OverwriteActionReplace
	// OverwriteActionReplaceAll replaces this and every later conflict.
	OverwriteActionReplaceAll
	OverwriteActionSkip
	// OverwriteActionSkipAll skips this and every later conflict.
	OverwriteActionSkipAll
)

// DuplicateDecision is the kind of a DuplicateAction.
type DuplicateDecision int

const (
	DuplicateRename DuplicateDecision = iota
	DuplicateSkip
	DuplicateAbort
)

// DuplicateAction answers a unique-name collision. An empty Name with
// DuplicateRename accepts ProgressInfo.DuplicateName.
type DuplicateAction struct {
	Decision DuplicateDecision
	Name     string
}

// RenameTo returns a DuplicateAction using name as the next candidate.
func RenameTo(name string) DuplicateAction {
	return DuplicateAction{Decision: DuplicateRename, Name: name}
}

// Handler is the progress channel between the engine and its caller.
type Handler interface {
	Progress(info *ProgressInfo) TickAction
	Error(info *ProgressInfo, err error) ErrorAction
	Overwrite(info *ProgressInfo) OverwriteAction
	Duplicate(info *ProgressInfo) DuplicateAction
}

// HandlerFuncs adapts plain functions to Handler. Nil fields continue on
// ticks, abort on errors and conflicts, and accept proposed duplicate names.
type HandlerFuncs struct {
	ProgressFunc  func(info *ProgressInfo) TickAction
	ErrorFunc     func(info *ProgressInfo, err error) ErrorAction
	OverwriteFunc func(info *ProgressInfo) OverwriteAction
	DuplicateFunc func(info *ProgressInfo) DuplicateAction
}

func (h HandlerFuncs) Progress(info *ProgressInfo) TickAction {
	if h.ProgressFunc == nil {
		return TickContinue
	}
	return h.ProgressFunc(info)
}

func (h HandlerFuncs) Error(info *ProgressInfo, err error) ErrorAction {
	if h.ErrorFunc == nil {
		return ErrorAbort
	}
	return h.ErrorFunc(info, err)
}

func (h HandlerFuncs) Overwrite(info *ProgressInfo) OverwriteAction {
	if h.OverwriteFunc == nil {
		return OverwriteActionAbort
	}
	return h.OverwriteFunc(info)
}

func (h HandlerFuncs) Duplicate(info *ProgressInfo) DuplicateAction {
	if h.DuplicateFunc == nil {
		return RenameTo(info.DuplicateName)
	}
	return h.DuplicateFunc(info)
}
