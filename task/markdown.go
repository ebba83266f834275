package task

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/stint-dev/stint-core/logger"
	"github.com/stint-dev/stint-core/taskid"
)

// MarkdownPrefix is the qualified-id prefix of the document backend.
const MarkdownPrefix = "md"

// MarkdownBackend stores tasks as a checklist document. Each task is one
// line of the form:
//
//	- [ ] md#12 Add dark mode (specs/dark-mode.md)
//
// Indented bullet lines immediately below a task line form its description.
// Statuses beyond the checkbox's TODO/DONE, and merge metadata, live in a
// trailing HTML comment so the file remains a readable checklist:
//
//	- [ ] md#12 Add dark mode (specs/dark-mode.md) <!-- stint: status=IN-REVIEW -->
type MarkdownBackend struct {
	path string
}

// taskLineRegex matches a checklist task line: checkbox, qualified id, rest.
var taskLineRegex = regexp.MustCompile(`^- \[([ xX])\] (\S+#\S+)\s+(.*)$`)

// descLineRegex matches an indented bullet belonging to the preceding task.
var descLineRegex = regexp.MustCompile(`^\s+[-*]\s+(.*)$`)

// metaCommentRegex matches the trailing metadata comment on a task line.
var metaCommentRegex = regexp.MustCompile(`\s*<!-- stint:(.*?)-->\s*$`)

// NewMarkdownBackend creates a document backend over the given checklist file.
// The file is allowed to not exist yet; it is created on first write.
func NewMarkdownBackend(path string) *MarkdownBackend {
	return &MarkdownBackend{path: path}
}

// Prefix returns "md".
func (b *MarkdownBackend) Prefix() string { return MarkdownPrefix }

// Name returns the human-readable backend name.
func (b *MarkdownBackend) Name() string { return "Markdown checklist" }

// Available reports whether the backend is usable. The document backend only
// needs a file path; a missing file simply means no tasks yet.
func (b *MarkdownBackend) Available() bool { return b.path != "" }

// Path returns the checklist file path.
func (b *MarkdownBackend) Path() string { return b.path }

// parsedTask is a task together with its location in the document.
type parsedTask struct {
	task      Task
	line      int // index of the task line
	descStart int // first description line index (== descEnd when none)
	descEnd   int // one past the last description line
}

// parseFile reads the checklist and extracts tasks with their line ranges.
// A missing file yields no tasks and no error.
func (b *MarkdownBackend) parseFile() ([]string, []parsedTask, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read tasks file %s: %w", b.path, err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	var tasks []parsedTask
	inFence := false

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		// Fenced code blocks are never task lines.
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}

		m := taskLineRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		id, err := taskid.Parse(m[2], "")
		if err != nil {
			// Looks like a task line but the id is malformed; leave it alone.
			continue
		}

		t := Task{ID: id, Status: StatusTodo}
		checked := m[1] != " "
		if checked {
			t.Status = StatusDone
		}

		rest := m[3]

		// Trailing metadata comment overrides the checkbox-implied status.
		if mc := metaCommentRegex.FindStringSubmatch(rest); mc != nil {
			rest = rest[:len(rest)-len(mc[0])]
			applyMeta(&t, mc[1])
		}

		t.Title, t.SpecPath = splitTitleLink(strings.TrimSpace(rest))

		// Collect the description: indented bullets until a blank line,
		// a fence, or the next task line.
		descStart := i + 1
		j := descStart
		var desc []string
		for ; j < len(lines); j++ {
			next := lines[j]
			if strings.TrimSpace(next) == "" || strings.HasPrefix(strings.TrimSpace(next), "```") {
				break
			}
			if taskLineRegex.MatchString(next) {
				break
			}
			dm := descLineRegex.FindStringSubmatch(next)
			if dm == nil {
				break
			}
			desc = append(desc, dm[1])
		}
		t.Description = strings.Join(desc, "\n")

		tasks = append(tasks, parsedTask{task: t, line: i, descStart: descStart, descEnd: j})
		i = j - 1
	}

	return lines, tasks, nil
}

// splitTitleLink separates "Title (link)" into its parts. The link is the
// final parenthesized group, if any.
func splitTitleLink(rest string) (title, link string) {
	if strings.HasSuffix(rest, ")") {
		if idx := strings.LastIndex(rest, " ("); idx >= 0 {
			return strings.TrimSpace(rest[:idx]), rest[idx+2 : len(rest)-1]
		}
	}
	return rest, ""
}

// applyMeta parses the "k=v; k=v" pairs of a stint metadata comment.
func applyMeta(t *Task, raw string) {
	fields := map[string]string{}
	for _, pair := range strings.Split(raw, ";") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	if s, ok := fields["status"]; ok {
		if parsed, err := ParseStatus(s); err == nil {
			t.Status = parsed
		}
	}

	if commit, ok := fields["commit"]; ok {
		merge := &MergeMetadata{
			Commit:     commit,
			MergedBy:   fields["by"],
			BaseBranch: fields["base"],
			PRBranch:   fields["pr"],
		}
		if at, ok := fields["merged_at"]; ok {
			if ts, err := time.Parse(time.RFC3339, at); err == nil {
				merge.MergedAt = ts
			}
		}
		t.Merge = merge
	}
}

// renderLine serializes a task back into its checklist line.
func renderLine(t Task) string {
	box := " "
	if t.Status.Completed() {
		box = "x"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "- [%s] %s %s", box, t.ID.String(), t.Title)
	if t.SpecPath != "" {
		fmt.Fprintf(&sb, " (%s)", t.SpecPath)
	}

	var meta []string
	switch t.Status {
	case StatusTodo, StatusDone:
		// Implied by the checkbox.
	default:
		meta = append(meta, "status="+string(t.Status))
	}
	if t.Merge != nil && t.Merge.Commit != "" {
		meta = append(meta, "commit="+t.Merge.Commit)
		if !t.Merge.MergedAt.IsZero() {
			meta = append(meta, "merged_at="+t.Merge.MergedAt.UTC().Format(time.RFC3339))
		}
		if t.Merge.BaseBranch != "" {
			meta = append(meta, "base="+t.Merge.BaseBranch)
		}
		if t.Merge.PRBranch != "" {
			meta = append(meta, "pr="+t.Merge.PRBranch)
		}
		if t.Merge.MergedBy != "" {
			meta = append(meta, "by="+t.Merge.MergedBy)
		}
	}
	if len(meta) > 0 {
		fmt.Fprintf(&sb, " <!-- stint: %s -->", strings.Join(meta, "; "))
	}
	return sb.String()
}

// List returns tasks passing the filter.
func (b *MarkdownBackend) List(filter Filter) ([]Task, error) {
	_, parsed, err := b.parseFile()
	if err != nil {
		return nil, err
	}

	var out []Task
	for _, p := range parsed {
		if filter.Matches(p.task) {
			out = append(out, p.task)
		}
	}
	return out, nil
}

// Get returns the task with the given id.
func (b *MarkdownBackend) Get(id taskid.ID) (*Task, error) {
	p, _, err := b.find(id)
	if err != nil {
		return nil, err
	}
	t := p.task
	return &t, nil
}

// GetStatus returns the task's current status.
func (b *MarkdownBackend) GetStatus(id taskid.ID) (Status, error) {
	t, err := b.Get(id)
	if err != nil {
		return "", err
	}
	return t.Status, nil
}

// find locates a task and returns it with the document lines.
func (b *MarkdownBackend) find(id taskid.ID) (*parsedTask, []string, error) {
	lines, parsed, err := b.parseFile()
	if err != nil {
		return nil, nil, err
	}
	for i := range parsed {
		if parsed[i].task.ID.Equal(id) {
			return &parsed[i], lines, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id.String())
}

// SetStatus transitions the task, rewriting only its checklist line.
func (b *MarkdownBackend) SetStatus(id taskid.ID, status Status) error {
	return b.mutate(id, func(t *Task) { t.Status = status })
}

// SetMergeMetadata records merge details in the task's metadata comment.
func (b *MarkdownBackend) SetMergeMetadata(id taskid.ID, merge MergeMetadata) error {
	return b.mutate(id, func(t *Task) { t.Merge = &merge })
}

// mutate applies fn to a task and atomically rewrites the document.
func (b *MarkdownBackend) mutate(id taskid.ID, fn func(*Task)) error {
	p, lines, err := b.find(id)
	if err != nil {
		return err
	}

	fn(&p.task)
	lines[p.line] = renderLine(p.task)
	return b.writeLines(lines)
}

// Create appends a task derived from a specification file. The new local id
// is one greater than the highest numeric id in the document.
func (b *MarkdownBackend) Create(specSource string) (*Task, error) {
	lines, parsed, err := b.parseFile()
	if err != nil {
		return nil, err
	}

	next := 1
	for _, p := range parsed {
		if n, err := strconv.Atoi(p.task.ID.Local); err == nil && n >= next {
			next = n + 1
		}
	}

	title := titleFromSpec(specSource)
	t := Task{
		ID:       taskid.ID{Backend: MarkdownPrefix, Local: strconv.Itoa(next)},
		Title:    title,
		Status:   StatusTodo,
		SpecPath: specSource,
	}

	lines = append(lines, renderLine(t))
	if err := b.writeLines(lines); err != nil {
		return nil, err
	}

	logger.WithComponent("task").Info("checklist task appended", "task", t.ID.String(), "file", b.path)
	return &t, nil
}

// titleFromSpec derives a title from a spec file: its first heading, or the
// filename without extension when the file cannot be read.
func titleFromSpec(specSource string) string {
	if data, err := os.ReadFile(specSource); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if after, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
				return strings.TrimSpace(after)
			}
		}
	}
	base := filepath.Base(specSource)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Delete removes the task line and its description block.
func (b *MarkdownBackend) Delete(id taskid.ID) error {
	p, lines, err := b.find(id)
	if err != nil {
		return err
	}

	kept := make([]string, 0, len(lines))
	kept = append(kept, lines[:p.line]...)
	kept = append(kept, lines[p.descEnd:]...)
	return b.writeLines(kept)
}

// SpecContent returns the content of the task's linked specification file.
// Relative links resolve against the checklist's directory.
func (b *MarkdownBackend) SpecContent(id taskid.ID) (string, error) {
	t, err := b.Get(id)
	if err != nil {
		return "", err
	}
	if t.SpecPath == "" {
		if t.Description != "" {
			return t.Description, nil
		}
		return "", fmt.Errorf("task %s has no specification", id.String())
	}

	specPath := t.SpecPath
	if !filepath.IsAbs(specPath) {
		specPath = filepath.Join(filepath.Dir(b.path), specPath)
	}
	data, err := os.ReadFile(specPath)
	if err != nil {
		return "", fmt.Errorf("failed to read spec for %s: %w", id.String(), err)
	}
	return string(data), nil
}

// writeLines atomically replaces the checklist file.
func (b *MarkdownBackend) writeLines(lines []string) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return fmt.Errorf("failed to create tasks directory: %w", err)
	}

	data := []byte(strings.Join(lines, "\n") + "\n")

	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".tasks-*.md")
	if err != nil {
		return fmt.Errorf("failed to create temp tasks file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write tasks file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close tasks file: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace tasks file: %w", err)
	}
	return nil
}

var _ Backend = (*MarkdownBackend)(nil)
