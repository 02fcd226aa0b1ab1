package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/laudza/leona/internal/api"
	"github.com/laudza/leona/internal/config"
	"github.com/laudza/leona/internal/handler"
	"github.com/laudza/leona/internal/llm"
	"github.com/laudza/leona/internal/memory"
	"github.com/laudza/leona/internal/metrics"
	"github.com/laudza/leona/internal/orchestrator"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the LEONA server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running LEONA server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show LEONA system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "leona.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "leona version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to start twice. Health check first, PID file second.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("LEONA is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("LEONA is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Model backend, with keyword rules as the degraded fallback.
	backend := llm.NewOllama(cfg.Ollama.BaseURL, cfg.Ollama.Model)
	var generator llm.Generator = backend
	if err := llm.EnsureReady(ctx, backend, os.Stderr); err != nil {
		printWarning("model backend unavailable, running in degraded mode: %v", err)
		generator = llm.NewRules()
	}

	store, err := memory.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening memory store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing memory store: %v\n", err)
		}
	}()

	// Domain handlers.
	scheduler := handler.NewScheduler(generator, store)
	automation := handler.NewAutomation(generator)
	smartHome := handler.NewSmartHome(generator, store, handler.NewSimulatedIntegration())
	fileHandler := handler.NewFile(generator, cfg.Workspace.Dir, cfg.Workspace.BackupDir)
	systemHandler := handler.NewSystem(generator, cfg.Workspace.ScriptsDir)
	web := handler.NewWeb(generator, store)

	orch := orchestrator.New(generator, store,
		scheduler, automation, smartHome, fileHandler, systemHandler, web)

	startedAt := time.Now()
	deps := api.Deps{
		Processor:  orch,
		Store:      store,
		Backend:    backend,
		SmartHome:  smartHome,
		Automation: automation,
		Token:      cfg.API.Token,
		StartedAt:  startedAt,
		Version:    version,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
	}

	// Background loops: reminder checker, trigger engine, metrics sampler.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(scheduler.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(automation.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(metrics.NewSampler().Run(gctx)) })

	// MCP server over stdio.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Processor: orch,
		Store:     store,
		SmartHome: smartHome,
		Backend:   backend,
		StartedAt: startedAt,
		Version:   version,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "leona listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	stop()
	return ignoreCanceled(g.Wait())
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("LEONA is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop LEONA (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to LEONA (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running (degraded mode)")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}
	printStatus("Model", "%s", cfg.Ollama.Model)

	if running {
		if statusResp, err := client.Get(serverURL + "/api/status"); err == nil {
			var status struct {
				Conversations int    `json:"conversations"`
				UptimeSeconds int    `json:"uptime_seconds"`
				Version       string `json:"version"`
			}
			if json.NewDecoder(statusResp.Body).Decode(&status) == nil {
				printStatus("Version", "%s", status.Version)
				printStatus("Uptime", "%s", (time.Duration(status.UptimeSeconds) * time.Second).String())
				printStatus("Conversations", "%d", status.Conversations)
			}
			statusResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
