package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// replacement is a computed (start, length, new lines) edit against the
// original line array, ready to be applied back-to-front.
type replacement struct {
	start int
	count int
	lines []string
}

// Snapshotter captures a file's pre-mutation state before a destructive
// write or delete, so the caller can offer rollback. A nil Snapshotter
// disables snapshotting.
type Snapshotter interface {
	Snapshot(path, operation, agentName string) error
}

// Applicator applies a Patch against a workspace root.
type Applicator struct {
	root        string
	snapshotter Snapshotter
	agentName   string
}

// NewApplicator builds an Applicator rooted at root. snapshotter may be nil.
func NewApplicator(root string, snapshotter Snapshotter, agentName string) *Applicator {
	return &Applicator{root: root, snapshotter: snapshotter, agentName: agentName}
}

// Apply executes every operation in order, validating paths first, and
// returns a human-readable result line per operation.
func (a *Applicator) Apply(operations []Operation) ([]string, error) {
	results := make([]string, 0, len(operations))

	for _, op := range operations {
		if err := ValidatePath(operationName(op.Kind), op.Path); err != nil {
			return results, err
		}
		if op.NewPath != "" {
			if err := ValidatePath(operationName(op.Kind), op.NewPath); err != nil {
				return results, err
			}
		}

		switch op.Kind {
		case OpAddFile:
			full := filepath.Join(a.root, op.Path)
			if err := a.writeAtomic(full, []byte(op.Content)); err != nil {
				return results, err
			}
			results = append(results, fmt.Sprintf("Added file: %s", op.Path))

		case OpDeleteFile:
			full := filepath.Join(a.root, op.Path)
			info, err := os.Stat(full)
			switch {
			case os.IsNotExist(err):
				results = append(results, fmt.Sprintf("File not found, skipped deletion: %s", op.Path))
				continue
			case err != nil:
				return results, &IOError{Action: "inspect", Path: full, Err: err}
			}
			a.snapshot(full, "delete")
			if info.IsDir() {
				err = os.RemoveAll(full)
			} else {
				err = os.Remove(full)
			}
			if err != nil {
				return results, &IOError{Action: "delete", Path: full, Err: err}
			}
			results = append(results, fmt.Sprintf("Deleted file: %s", op.Path))

		case OpUpdateFile:
			sourcePath := filepath.Join(a.root, op.Path)
			existing, err := os.ReadFile(sourcePath)
			if err != nil {
				return results, &IOError{Action: "read", Path: sourcePath, Err: err}
			}

			newContent, err := computeNewContent(string(existing), op.Path, op.Chunks)
			if err != nil {
				return results, err
			}

			a.snapshot(sourcePath, "write")

			if op.NewPath != "" {
				destPath := filepath.Join(a.root, op.NewPath)
				if err := a.writeAtomic(destPath, []byte(newContent)); err != nil {
					return results, err
				}
				if destPath != sourcePath {
					if err := os.Remove(sourcePath); err != nil && !os.IsNotExist(err) {
						return results, &IOError{Action: "delete", Path: sourcePath, Err: err}
					}
				}
				results = append(results, fmt.Sprintf("Updated file: %s -> %s", op.Path, op.NewPath))
			} else {
				if err := a.writeAtomic(sourcePath, []byte(newContent)); err != nil {
					return results, err
				}
				results = append(results, fmt.Sprintf("Updated file: %s", op.Path))
			}
		}
	}

	return results, nil
}

func (a *Applicator) snapshot(path, operation string) {
	if a.snapshotter == nil {
		return
	}
	_ = a.snapshotter.Snapshot(path, operation, a.agentName)
}

func operationName(kind OperationKind) string {
	switch kind {
	case OpAddFile:
		return "add"
	case OpDeleteFile:
		return "delete"
	case OpUpdateFile:
		return "update"
	default:
		return "unknown"
	}
}

func computeNewContent(existing, path string, chunks []Chunk) (string, error) {
	lines := strings.Split(existing, "\n")
	hadTrailingNewline := strings.HasSuffix(existing, "\n")
	if hadTrailingNewline && len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	replacements, err := computeReplacements(lines, chunks, path)
	if err != nil {
		return "", err
	}
	newLines := applyReplacements(lines, replacements)

	endsWithEOF := false
	for _, c := range chunks {
		if c.EndOfFile {
			endsWithEOF = true
			break
		}
	}
	if (hadTrailingNewline || endsWithEOF) && (len(newLines) == 0 || newLines[len(newLines)-1] != "") {
		newLines = append(newLines, "")
	}

	return strings.Join(newLines, "\n"), nil
}

func computeReplacements(originalLines []string, chunks []Chunk, path string) ([]replacement, error) {
	matcher := NewContextMatcher(originalLines)
	var replacements []replacement
	lineIndex := 0

	for _, chunk := range chunks {
		if chunk.HasChangeContext {
			idx := matcher.Seek([]string{chunk.ChangeContext}, lineIndex, false)
			if idx < 0 {
				return nil, &ContextNotFoundError{Path: path, Context: chunk.ChangeContext}
			}
			lineIndex = idx + 1
		}

		oldSegment := append([]string(nil), chunk.OldLines...)
		newSegment := append([]string(nil), chunk.NewLines...)

		if !chunk.HasOldLines() {
			insertionIdx := len(originalLines)
			if chunk.HasChangeContext {
				insertionIdx = minInt(lineIndex, len(originalLines))
			}
			lineIndex = insertionIdx + len(newSegment)
			replacements = append(replacements, replacement{start: insertionIdx, count: 0, lines: newSegment})
			continue
		}

		found := matcher.Seek(oldSegment, lineIndex, chunk.EndOfFile)
		if found < 0 && len(oldSegment) > 0 && oldSegment[len(oldSegment)-1] == "" {
			oldSegment = oldSegment[:len(oldSegment)-1]
			if len(newSegment) > 0 && newSegment[len(newSegment)-1] == "" {
				newSegment = newSegment[:len(newSegment)-1]
			}
			found = matcher.Seek(oldSegment, lineIndex, chunk.EndOfFile)
		}

		if found >= 0 {
			lineIndex = found + len(oldSegment)
			replacements = append(replacements, replacement{start: found, count: len(oldSegment), lines: newSegment})
			continue
		}

		snippet := "<empty>"
		if len(oldSegment) > 0 {
			snippet = strings.Join(oldSegment, "\n")
		}
		return nil, &SegmentNotFoundError{Path: path, Snippet: snippet}
	}

	sort.Slice(replacements, func(i, j int) bool { return replacements[i].start < replacements[j].start })
	return replacements, nil
}

func applyReplacements(lines []string, replacements []replacement) []string {
	for i := len(replacements) - 1; i >= 0; i-- {
		r := replacements[i]
		start, count := r.start, r.count
		end := start + count
		if end > len(lines) {
			end = len(lines)
		}

		tail := append([]string(nil), lines[end:]...)
		head := append([]string(nil), lines[:start]...)

		merged := make([]string, 0, len(head)+len(r.lines)+len(tail))
		merged = append(merged, head...)
		merged = append(merged, r.lines...)
		merged = append(merged, tail...)
		lines = merged
	}
	return lines
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (a *Applicator) writeAtomic(path string, content []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &IOError{Action: "create directories", Path: dir, Err: err}
		}
	}

	tmp := temporaryPath(path)
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return &IOError{Action: "write", Path: tmp, Err: err}
	}

	if err := os.Rename(tmp, path); err != nil {
		if os.IsExist(err) {
			if rmErr := os.Remove(path); rmErr != nil {
				return &IOError{Action: "delete", Path: path, Err: rmErr}
			}
			if renameErr := os.Rename(tmp, path); renameErr != nil {
				return &IOError{Action: "rename", Path: path, Err: renameErr}
			}
			return nil
		}
		_ = os.Remove(tmp)
		return &IOError{Action: "rename", Path: path, Err: err}
	}
	return nil
}

func temporaryPath(target string) string {
	dir := filepath.Dir(target)
	name := filepath.Base(target)
	timestamp := time.Now().UnixNano()
	pid := os.Getpid()
	return filepath.Join(dir, fmt.Sprintf(".%s.%d.%d.tmp", name, pid, timestamp))
}
