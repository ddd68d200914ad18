package artifact

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Layout maps the well-known artifact locations under the state directory.
type Layout struct {
	Root string // <workspace>/.verify-orch
}

func (l Layout) StatePath() string       { return filepath.Join(l.Root, "state.db") }
func (l Layout) AuditPath() string       { return filepath.Join(l.Root, "audit.log") }
func (l Layout) RequirementPath() string { return filepath.Join(l.Root, "requirement.md") }
func (l Layout) TestsDir() string        { return filepath.Join(l.Root, "tests") }
func (l Layout) ImplDir() string         { return filepath.Join(l.Root, "impl") }
func (l Layout) StrippedDir() string     { return filepath.Join(l.Root, "stripped") }
func (l Layout) SignalsDir() string      { return filepath.Join(l.Root, "signals") }
func (l Layout) StageDir() string        { return filepath.Join(l.Root, "stage") }
func (l Layout) LogsDir() string         { return filepath.Join(l.Root, "logs") }

// Store provides file-backed artifact persistence for one workspace.
// The requirement artifact is write-once; test and implementation
// artifacts are rewritten wholesale each iteration.
type Store struct {
	layout Layout
	now    func() time.Time
}

// NewStore creates a store rooted at the given state directory
func NewStore(root string) *Store {
	return &Store{
		layout: Layout{Root: root},
		now:    time.Now,
	}
}

// Layout returns the store's path layout
func (s *Store) Layout() Layout {
	return s.layout
}

// Init creates the artifact directory tree
func (s *Store) Init() error {
	dirs := []string{
		s.layout.Root,
		s.layout.TestsDir(),
		s.layout.ImplDir(),
		s.layout.StrippedDir(),
		s.layout.SignalsDir(),
		s.layout.StageDir(),
		s.layout.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// RequirementMeta is the YAML frontmatter on the requirement artifact
type RequirementMeta struct {
	RunID     string `yaml:"run_id"`
	Language  string `yaml:"language"`
	TestScope string `yaml:"test_scope"`
	CreatedAt string `yaml:"created_at"`
}

// ErrRequirementExists is returned when writing over an existing requirement.
// The requirement is immutable for the lifetime of a run.
var ErrRequirementExists = fmt.Errorf("requirement artifact already exists")

// WriteRequirement persists the immutable requirement artifact, failing if
// one already exists
func (s *Store) WriteRequirement(text string, meta RequirementMeta) error {
	path := s.layout.RequirementPath()
	if _, err := os.Stat(path); err == nil {
		return ErrRequirementExists
	}
	if meta.CreatedAt == "" {
		meta.CreatedAt = s.now().UTC().Format(time.RFC3339)
	}

	fm, err := yaml.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("marshaling requirement meta: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(fm)
	buf.WriteString("---\n\n")
	buf.WriteString(strings.TrimLeft(text, "\n"))
	if !strings.HasSuffix(text, "\n") {
		buf.WriteString("\n")
	}

	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ReadRequirement returns the requirement text (frontmatter removed) and
// its metadata
func (s *Store) ReadRequirement() (string, *RequirementMeta, error) {
	content, err := os.ReadFile(s.layout.RequirementPath())
	if err != nil {
		return "", nil, fmt.Errorf("reading requirement: %w", err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		return "", nil, err
	}
	return string(body), meta, nil
}

// parseFrontmatter extracts YAML frontmatter from markdown content
func parseFrontmatter(content []byte) (*RequirementMeta, []byte, error) {
	if !bytes.HasPrefix(content, []byte("---\n")) {
		return &RequirementMeta{}, content, nil
	}

	rest := content[4:]
	endIdx := bytes.Index(rest, []byte("\n---"))
	if endIdx == -1 {
		return &RequirementMeta{}, content, nil
	}

	fmData := rest[:endIdx]
	remaining := rest[endIdx+4:]

	var meta RequirementMeta
	if err := yaml.Unmarshal(fmData, &meta); err != nil {
		return nil, nil, fmt.Errorf("parsing requirement frontmatter: %w", err)
	}

	return &meta, bytes.TrimLeft(remaining, "\n"), nil
}

// Read returns the content of an artifact by absolute path. The path must
// be inside the store root.
func (s *Store) Read(path string) (string, error) {
	if !s.contains(path) {
		return "", fmt.Errorf("path %s is outside the artifact store", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Write persists an artifact at the given absolute path inside the store
func (s *Store) Write(path, content string) error {
	if !s.contains(path) {
		return fmt.Errorf("path %s is outside the artifact store", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// ListTests returns the test artifact paths in stable order
func (s *Store) ListTests() ([]string, error) {
	return listFiles(s.layout.TestsDir())
}

// ListImpl returns the implementation artifact paths in stable order
func (s *Store) ListImpl() ([]string, error) {
	return listFiles(s.layout.ImplDir())
}

// ListStripped returns the comment-stripped test copies in stable order
func (s *Store) ListStripped() ([]string, error) {
	return listFiles(s.layout.StrippedDir())
}

// ClearStripped removes all stripped test copies so they can be rebuilt
// from the current test artifacts
func (s *Store) ClearStripped() error {
	entries, err := os.ReadDir(s.layout.StrippedDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.layout.StrippedDir(), e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// ClearRun removes the previous run's artifacts (requirement, tests,
// implementation, stripped copies, signals, staged suite) so a new run
// starts clean.
// The audit log and state database are never touched.
func (s *Store) ClearRun() error {
	if err := os.Remove(s.layout.RequirementPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, dir := range []string{s.layout.TestsDir(), s.layout.ImplDir(), s.layout.StrippedDir(), s.layout.SignalsDir(), s.layout.StageDir()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) contains(path string) bool {
	rel, err := filepath.Rel(s.layout.Root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
