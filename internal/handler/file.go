package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/laudza/leona/internal/intent"
	"github.com/laudza/leona/internal/llm"
)

const (
	searchResultCap = 10
	readPreviewCap  = 4000
)

// fileCategories maps extensions to the folder names used by organize.
var fileCategories = map[string]string{
	".pdf": "Documents", ".doc": "Documents", ".docx": "Documents", ".txt": "Documents",
	".md": "Documents", ".odt": "Documents",
	".jpg": "Images", ".jpeg": "Images", ".png": "Images", ".gif": "Images",
	".svg": "Images", ".webp": "Images",
	".mp4": "Videos", ".mov": "Videos", ".avi": "Videos", ".mkv": "Videos",
	".mp3": "Audio", ".wav": "Audio", ".flac": "Audio", ".m4a": "Audio",
	".zip": "Archives", ".tar": "Archives", ".gz": "Archives", ".rar": "Archives",
	".go": "Code", ".py": "Code", ".js": "Code", ".ts": "Code", ".rs": "Code",
	".csv": "Data", ".json": "Data", ".xml": "Data", ".xlsx": "Data",
}

// File manages documents inside the workspace directory: creating, reading,
// organizing, searching, and backing them up.
type File struct {
	generator llm.Generator
	clock     Clock

	workspace string
	backupDir string
}

// NewFile creates a File handler rooted at the given workspace. Empty paths
// fall back to the defaults under the user's home directory.
func NewFile(g llm.Generator, workspace, backupDir string) *File {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	if workspace == "" {
		workspace = filepath.Join(home, "LEONA_Workspace")
	}
	if backupDir == "" {
		backupDir = filepath.Join(home, "LEONA_Backups")
	}
	return &File{
		generator: g,
		clock:     realClock{},
		workspace: workspace,
		backupDir: backupDir,
	}
}

func (h *File) Name() string    { return "file" }
func (h *File) Purpose() string { return "file operations, document management, organization" }

// Execute parses the file request and dispatches on its action.
func (h *File) Execute(ctx context.Context, input string, params map[string]any) string {
	if err := os.MkdirAll(h.workspace, 0o755); err != nil {
		return fmt.Sprintf("I couldn't access your workspace folder: %v. Check permissions on %s.", err, h.workspace)
	}

	cmd := intent.ParseStructured(ctx, h.generator, filePrompt(input))

	switch intent.Action(cmd) {
	case "create_file":
		return h.createFile(cmd)
	case "read_file":
		return h.readFile(ctx, cmd)
	case "organize":
		return h.organize()
	case "search_files":
		return h.searchFiles(cmd)
	case "backup":
		return h.backup()
	case "analyze":
		return h.analyze()
	default:
		return h.overview()
	}
}

func filePrompt(input string) string {
	return fmt.Sprintf(`Parse this file management request:
User: %s

Extract:
- action: (create_file, read_file, organize, search_files, backup, analyze)
- filename: File name
- content: Content to write (for create_file)
- query: Search terms (for search_files)

Return as JSON.`, input)
}

// workspacePath resolves a user-supplied name inside the workspace and
// rejects traversal outside it.
func (h *File) workspacePath(name string) (string, error) {
	p := filepath.Join(h.workspace, filepath.Clean("/"+name))
	if !strings.HasPrefix(p, h.workspace+string(filepath.Separator)) && p != h.workspace {
		return "", fmt.Errorf("path %q escapes the workspace", name)
	}
	return p, nil
}

func (h *File) createFile(cmd map[string]any) string {
	name := intent.Str(cmd, "filename", "")
	if name == "" {
		return "What should I name the file? For example: \"create a file called notes.txt\"."
	}
	path, err := h.workspacePath(name)
	if err != nil {
		return fmt.Sprintf("I can only create files inside %s.", h.workspace)
	}

	content := intent.Str(cmd, "content", "")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Sprintf("I couldn't create '%s': %v. Check the workspace permissions and try again.", name, err)
	}
	return fmt.Sprintf("📄 Created '%s' in your workspace (%d bytes). Want me to add anything to it?", name, len(content))
}

func (h *File) readFile(ctx context.Context, cmd map[string]any) string {
	name := intent.Str(cmd, "filename", "")
	if name == "" {
		return "Which file should I read?"
	}
	path, err := h.workspacePath(name)
	if err != nil {
		return fmt.Sprintf("I can only read files inside %s.", h.workspace)
	}

	var content string
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		content, err = readPDF(path)
	} else {
		var raw []byte
		raw, err = os.ReadFile(path)
		content = string(raw)
	}
	if err != nil {
		return fmt.Sprintf("I couldn't read '%s': %v. Is the name right? Try \"search for %s\".", name, err, name)
	}

	if len(content) > readPreviewCap {
		content = content[:readPreviewCap] + "\n... (truncated)"
	}
	return fmt.Sprintf("📖 Contents of '%s':\n\n%s", name, content)
}

// readPDF extracts the plain text of a PDF document.
func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, reader); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return sb.String(), nil
}

// organize moves loose workspace files into category folders by extension.
func (h *File) organize() string {
	entries, err := os.ReadDir(h.workspace)
	if err != nil {
		return fmt.Sprintf("I couldn't scan your workspace: %v.", err)
	}

	moved := map[string]int{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		category := fileCategories[strings.ToLower(filepath.Ext(e.Name()))]
		if category == "" {
			category = "Miscellaneous"
		}

		dir := filepath.Join(h.workspace, category)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			continue
		}
		src := filepath.Join(h.workspace, e.Name())
		if err := os.Rename(src, filepath.Join(dir, e.Name())); err != nil {
			continue
		}
		moved[category]++
	}

	if len(moved) == 0 {
		return "🗂️ Your workspace is already organized! Nothing to move."
	}

	categories := make([]string, 0, len(moved))
	for c := range moved {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var sb strings.Builder
	sb.WriteString("🗂️ Workspace organized!\n")
	for _, c := range categories {
		fmt.Fprintf(&sb, "\n• %s: %d file(s)", c, moved[c])
	}
	sb.WriteString("\n\nEverything is sorted into folders by type.")
	return sb.String()
}

// searchFiles finds workspace files matching the query by name or content,
// capped at searchResultCap results.
func (h *File) searchFiles(cmd map[string]any) string {
	query := strings.ToLower(intent.Str(cmd, "query", intent.Str(cmd, "filename", "")))
	if query == "" {
		return "What should I search for?"
	}

	var matches []string
	err := filepath.WalkDir(h.workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if len(matches) >= searchResultCap {
			return fs.SkipAll
		}
		rel, _ := filepath.Rel(h.workspace, path)
		if strings.Contains(strings.ToLower(rel), query) {
			matches = append(matches, rel)
			return nil
		}
		if info, err := d.Info(); err == nil && info.Size() < 1<<20 {
			if raw, err := os.ReadFile(path); err == nil &&
				strings.Contains(strings.ToLower(string(raw)), query) {
				matches = append(matches, rel)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Sprintf("Search failed: %v.", err)
	}

	if len(matches) == 0 {
		return fmt.Sprintf("🔍 No files matching '%s' in your workspace.", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 Found %d file(s) matching '%s':\n", len(matches), query)
	for _, m := range matches {
		sb.WriteString("\n• " + m)
	}
	return sb.String()
}

// backup copies the workspace into a timestamped folder and writes a
// manifest of what was copied.
func (h *File) backup() string {
	stamp := h.clock.Now().Format("2006-01-02_150405")
	dest := filepath.Join(h.backupDir, stamp)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Sprintf("I couldn't create the backup folder: %v.", err)
	}

	type manifestEntry struct {
		Path string `json:"path"`
		Size int64  `json:"size"`
	}
	var manifest []manifestEntry

	err := filepath.WalkDir(h.workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(h.workspace, path)
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.WriteFile(target, raw, 0o644); err != nil {
			return err
		}
		manifest = append(manifest, manifestEntry{Path: rel, Size: int64(len(raw))})
		return nil
	})
	if err != nil {
		return fmt.Sprintf("Backup failed partway: %v. The partial backup is at %s.", err, dest)
	}

	raw, _ := json.MarshalIndent(map[string]any{
		"created_at": h.clock.Now(),
		"file_count": len(manifest),
		"files":      manifest,
	}, "", "  ")
	if err := os.WriteFile(filepath.Join(dest, "manifest.json"), raw, 0o644); err != nil {
		return fmt.Sprintf("Backup copied but the manifest failed: %v.", err)
	}

	return fmt.Sprintf("💾 Backup complete! %d file(s) copied to %s with a manifest.", len(manifest), dest)
}

// analyze summarizes the workspace by category, count, and total size.
func (h *File) analyze() string {
	var count int
	var total int64
	byCategory := map[string]int{}

	filepath.WalkDir(h.workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		count++
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		category := fileCategories[strings.ToLower(filepath.Ext(path))]
		if category == "" {
			category = "Miscellaneous"
		}
		byCategory[category]++
		return nil
	})

	if count == 0 {
		return "📊 Your workspace is empty. Create a file or drop some in to get started!"
	}

	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Workspace Analysis\n\n📁 %d file(s), %.1f KB total\n", count, float64(total)/1024)
	for _, c := range categories {
		fmt.Fprintf(&sb, "\n• %s: %d", c, byCategory[c])
	}
	sb.WriteString("\n\nWant me to organize these into folders or back them up?")
	return sb.String()
}

func (h *File) overview() string {
	return fmt.Sprintf(`📁 I can manage your files! Everything happens inside %s.

📄 File Operations:
• Create and read files (including PDF text extraction)
• Organize files into folders by type
• Search by name or content
• Back up the whole workspace with a manifest
• Analyze what's taking up space

Try: "create a file called ideas.txt" or "organize my files".

What would you like to do?`, h.workspace)
}
