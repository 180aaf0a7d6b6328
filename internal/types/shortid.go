package types

import (
	"fmt"
	"regexp"
	"strings"
)

// RefKind identifies what entity a short identifier names.
type RefKind int

const (
	RefUnknown RefKind = iota
	RefProject
	RefPhase
	RefMilestone
	RefTask
	RefChangeset
)

// String returns the human name of the kind.
func (k RefKind) String() string {
	switch k {
	case RefProject:
		return "project"
	case RefPhase:
		return "phase"
	case RefMilestone:
		return "milestone"
	case RefTask:
		return "task"
	case RefChangeset:
		return "changeset"
	}
	return "unknown"
}

// Short identifier grammar. Scoped counters allocate the numeric parts;
// the full path from the project root is always required.
var (
	projectRe   = regexp.MustCompile(`^P(\d+)$`)
	phaseRe     = regexp.MustCompile(`^P(\d+)\.PH(\d+)$`)
	milestoneRe = regexp.MustCompile(`^P(\d+)\.M(\d+)$`)
	taskRe      = regexp.MustCompile(`^P(\d+)\.M(\d+)\.T(\d+)$`)
	changesetRe = regexp.MustCompile(`^P(\d+)\.C(\d+)$`)

	// orphanRe matches scoped suffixes presented without their parent,
	// e.g. "T11" or "M2.T11". These are rejected, not guessed at.
	orphanRe = regexp.MustCompile(`^(M\d+\.)?(T|M|PH|C)\d+$`)
)

// ShortIDKind classifies s, returning RefUnknown when s is not a short
// identifier at all (callers then treat it as an opaque ID).
func ShortIDKind(s string) RefKind {
	switch {
	case projectRe.MatchString(s):
		return RefProject
	case phaseRe.MatchString(s):
		return RefPhase
	case milestoneRe.MatchString(s):
		return RefMilestone
	case taskRe.MatchString(s):
		return RefTask
	case changesetRe.MatchString(s):
		return RefChangeset
	}
	return RefUnknown
}

// IsShortID reports whether s parses as any short identifier.
func IsShortID(s string) bool {
	return ShortIDKind(s) != RefUnknown
}

// ValidateRef checks a reference before lookup. A scoped suffix without its
// parent path ("T11") is IDENTIFIER_PARENT_REQUIRED; everything else is
// either a well-formed short ID or treated as an opaque ID.
func ValidateRef(ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return NewError(ErrNotFound, "empty reference")
	}
	if ShortIDKind(ref) != RefUnknown {
		return nil
	}
	if orphanRe.MatchString(ref) {
		return NewError(ErrIdentifierParentRequired,
			"reference %q requires its parent scope (use the full short ID, e.g. P1.M1.%s)",
			ref, lastSegment(ref))
	}
	return nil
}

func lastSegment(ref string) string {
	if i := strings.LastIndex(ref, "."); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

// ProjectShortID formats the project counter value n.
func ProjectShortID(n int64) string { return fmt.Sprintf("P%d", n) }

// PhaseShortID formats a phase short ID under its project.
func PhaseShortID(project string, n int64) string {
	return fmt.Sprintf("%s.PH%d", project, n)
}

// MilestoneShortID formats a milestone short ID under its project.
func MilestoneShortID(project string, n int64) string {
	return fmt.Sprintf("%s.M%d", project, n)
}

// TaskShortID formats a task short ID under its milestone.
func TaskShortID(milestone string, n int64) string {
	return fmt.Sprintf("%s.T%d", milestone, n)
}

// ChangesetShortID formats a changeset short ID under its project.
func ChangesetShortID(project string, n int64) string {
	return fmt.Sprintf("%s.C%d", project, n)
}

// ProjectOfShortID extracts the project prefix ("P3") from any short ID,
// or empty string when s is not a short ID.
func ProjectOfShortID(s string) string {
	if ShortIDKind(s) == RefUnknown {
		return ""
	}
	if i := strings.Index(s, "."); i >= 0 {
		return s[:i]
	}
	return s
}
