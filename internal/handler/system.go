package handler

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/laudza/leona/internal/intent"
	"github.com/laudza/leona/internal/llm"
)

const (
	scriptTimeout = 30 * time.Second
	fileSearchCap = 5
)

// System launches applications, finds files on disk, and runs approved
// scripts.
type System struct {
	generator llm.Generator

	// approvedDirs are the only directories run_script will execute from.
	approvedDirs []string

	// goos and home are swappable for tests.
	goos string
	home string
}

// NewSystem creates a System handler. An empty scriptsDir defaults to
// ~/LEONA_Scripts.
func NewSystem(g llm.Generator, scriptsDir string) *System {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	if scriptsDir == "" {
		scriptsDir = filepath.Join(home, "LEONA_Scripts")
	}
	return &System{
		generator:    g,
		approvedDirs: []string{scriptsDir},
		goos:         runtime.GOOS,
		home:         home,
	}
}

func (h *System) Name() string    { return "system" }
func (h *System) Purpose() string { return "system commands, app launching, local file search" }

// Execute parses the system request and dispatches on its action.
func (h *System) Execute(ctx context.Context, input string, params map[string]any) string {
	cmd := intent.ParseStructured(ctx, h.generator, systemPrompt(input))

	switch intent.Action(cmd) {
	case "open_app":
		return h.openApp(cmd)
	case "search_files":
		return h.searchHome(cmd)
	case "run_script":
		return h.runScript(ctx, cmd)
	case "system_info":
		return h.systemInfo()
	default:
		return h.overview()
	}
}

func systemPrompt(input string) string {
	return fmt.Sprintf(`Parse this system request:
User: %s

Extract:
- action: (open_app, search_files, run_script, system_info)
- app: Application name (for open_app)
- query: Search terms (for search_files)
- script: Script path (for run_script)

Return as JSON.`, input)
}

// openApp launches an application with the platform's opener.
func (h *System) openApp(cmd map[string]any) string {
	app := intent.Str(cmd, "app", "")
	if app == "" {
		return "Which application should I open?"
	}

	var c *exec.Cmd
	switch h.goos {
	case "darwin":
		c = exec.Command("open", "-a", app)
	case "windows":
		c = exec.Command("cmd", "/c", "start", "", app)
	default:
		c = exec.Command("xdg-open", app)
	}

	if err := c.Start(); err != nil {
		return fmt.Sprintf("I couldn't launch '%s': %v. Is it installed?", app, err)
	}
	return fmt.Sprintf("🚀 Opening %s for you!", app)
}

// searchHome looks for files under the home directory matching the query,
// capped at fileSearchCap results. Hidden directories are skipped.
func (h *System) searchHome(cmd map[string]any) string {
	query := strings.ToLower(intent.Str(cmd, "query", ""))
	if query == "" {
		return "What file should I look for?"
	}

	var matches []string
	filepath.WalkDir(h.home, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") && path != h.home {
			return fs.SkipDir
		}
		if len(matches) >= fileSearchCap {
			return fs.SkipAll
		}
		if !d.IsDir() && strings.Contains(strings.ToLower(d.Name()), query) {
			matches = append(matches, path)
		}
		return nil
	})

	if len(matches) == 0 {
		return fmt.Sprintf("🔍 I couldn't find any files matching '%s' in your home directory.", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 Found %d file(s) matching '%s':\n", len(matches), query)
	for _, m := range matches {
		sb.WriteString("\n• " + m)
	}
	return sb.String()
}

// runScript executes a script if it lives in an approved directory, with a
// hard timeout.
func (h *System) runScript(ctx context.Context, cmd map[string]any) string {
	script := intent.Str(cmd, "script", "")
	if script == "" {
		return "Which script should I run? It must live in an approved scripts folder."
	}

	abs, err := filepath.Abs(script)
	if err != nil {
		return fmt.Sprintf("I couldn't resolve that script path: %v.", err)
	}
	if !h.isApproved(abs) {
		return fmt.Sprintf("⛔ I only run scripts from approved folders (%s). Move the script there first.", strings.Join(h.approvedDirs, ", "))
	}

	ctx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, abs).CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("⏱️ '%s' ran longer than %s and was stopped.", filepath.Base(abs), scriptTimeout)
	}
	if err != nil {
		return fmt.Sprintf("The script failed: %v\n%s", err, strings.TrimSpace(string(out)))
	}

	output := strings.TrimSpace(string(out))
	if output == "" {
		output = "(no output)"
	}
	return fmt.Sprintf("✅ '%s' finished:\n%s", filepath.Base(abs), output)
}

func (h *System) isApproved(abs string) bool {
	for _, dir := range h.approvedDirs {
		if strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (h *System) systemInfo() string {
	wd, _ := os.Getwd()
	return fmt.Sprintf(`💻 System Information

🖥️ OS: %s/%s
🧮 CPUs: %d
📂 Working directory: %s
🏠 Home: %s`, h.goos, runtime.GOARCH, runtime.NumCPU(), wd, h.home)
}

func (h *System) overview() string {
	return `💻 I can help with your system! Here's what I can do:

🚀 System Control:
• Open applications
• Search for files on your machine
• Run scripts from approved folders
• Show system information

Try: "open the calculator" or "find my tax documents".

What would you like to do?`
}
