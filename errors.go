package statefile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/reoring/statefile/i18n"
)

// Issue codes. Every code below is structural: it signals a defect in a schema
// declaration, a serializer registration or the stored document's shape, never
// an external entity that went away.
const (
	CodeInvalidType           = "invalid_type"
	CodeRequired              = "required"
	CodeUnresolved            = "unresolved"
	CodeUnknownKey            = "unknown_key"
	CodeNoSerializer          = "no_serializer"
	CodeShadowed              = "shadowed"
	CodeDefaultConflict       = "default_conflict"
	CodeProducerUnset         = "producer_unset"
	CodeUnknownField          = "unknown_field"
	CodeParseError            = "parse_error"
	CodeDuplicateKey          = "duplicate_key"
	CodeDependencyUnavailable = "dependency_unavailable"
)

var (
	// ErrUnregistered is returned when a Delegate is used before its
	// serializer has been added to a Registrar.
	ErrUnregistered = errors.New("statefile: serializer is not registered")
	// ErrUnresolved reports that a top-level record could not be built.
	ErrUnresolved = errors.New("statefile: record could not be resolved")
)

// UnresolvedError reports a top-level record that was not built, with the
// outcome of its construction. It matches ErrUnresolved.
type UnresolvedError struct {
	Record  string
	Source  string
	Outcome Outcome
}

func (e *UnresolvedError) Error() string {
	msg := fmt.Sprintf("%s: %s from %s is %s", ErrUnresolved, e.Record, e.Source, e.Outcome.Status)
	if len(e.Outcome.Unresolved) > 0 {
		msg += " (" + strings.Join(e.Outcome.Unresolved, ", ") + ")"
	}
	return msg
}

func (e *UnresolvedError) Unwrap() error { return ErrUnresolved }

// Issue represents a single structural error.
type Issue struct {
	Path    string // JSON Pointer (for example: /wips/2/channel).
	Code    string // One of the codes listed above.
	Message string
	Hint    string // Optional: type names, field names, etc.
	Cause   error  // Optional: underlying error.
}

// Issues is a collection of structural errors that implements error.
type Issues []Issue

// Error summarizes the first few issues.
func (iss Issues) Error() string {
	if len(iss) == 0 {
		return ""
	}
	const maxShown = 3
	b := &strings.Builder{}
	n := len(iss)
	lim := n
	if lim > maxShown {
		lim = maxShown
	}
	for i := 0; i < lim; i++ {
		if i > 0 {
			b.WriteString("; ")
		}
		it := iss[i]
		fmt.Fprintf(b, "%s at %s", it.Code, it.Path)
		if it.Hint != "" {
			fmt.Fprintf(b, " (%s)", it.Hint)
		}
	}
	if n > lim {
		fmt.Fprintf(b, "; ... (total %d)", n)
	}
	return b.String()
}

// Unwrap exposes the causes so errors.Is can see through Issues.
func (iss Issues) Unwrap() []error {
	var out []error
	for _, it := range iss {
		if it.Cause != nil {
			out = append(out, it.Cause)
		}
	}
	return out
}

// AppendIssues appends issues to the destination, initializing the slice when
// needed.
func AppendIssues(dst Issues, more ...Issue) Issues {
	if dst == nil {
		dst = Issues{}
	}
	dst = append(dst, more...)
	return dst
}

// AsIssues extracts Issues from an error using errors.As internally.
func AsIssues(err error) (Issues, bool) {
	if err == nil {
		return nil, false
	}
	var iss Issues
	if errors.As(err, &iss) {
		return iss, true
	}
	return nil, false
}

// IssueAt creates an Issue at path with a translated message for code.
func IssueAt(path, code, hint string) Issue {
	return Issue{Path: path, Code: code, Message: i18n.T(code, nil), Hint: hint}
}

// Rebase prefixes the paths of Issues in err with base. Errors that are not
// Issues are returned unchanged so sentinel and handler errors keep their
// identity for errors.Is.
func Rebase(base string, err error) error {
	if err == nil || base == "" || base == "/" {
		return err
	}
	child, ok := AsIssues(err)
	if !ok {
		return err
	}
	out := make(Issues, 0, len(child))
	for _, it := range child {
		p := it.Path
		if p == "" || p == "/" {
			p = base
		} else if p[0] == '/' {
			p = base + p
		} else {
			p = base + "/" + p
		}
		it.Path = p
		out = append(out, it)
	}
	return out
}

// PointerIndex renders a slice index as a JSON Pointer segment.
func PointerIndex(i int) string { return "/" + strconv.Itoa(i) }

// PointerKey renders an object key as a JSON Pointer segment.
func PointerKey(k string) string {
	k = strings.ReplaceAll(k, "~", "~0")
	k = strings.ReplaceAll(k, "/", "~1")
	return "/" + k
}
