package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/laudza/leona/internal/config"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send one request to the running assistant",
	Long: `Send one natural-language request to the running LEONA server.

Examples:
  leona chat "remind me to call Bob tomorrow at 3pm"
  leona chat "what's on my schedule today"
  leona chat "turn off the living room lights"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/api/chat", map[string]string{"message": message})
		if err != nil {
			return err
		}

		var result struct {
			Response   string `json:"response"`
			Handler    string `json:"handler"`
			DurationMs int64  `json:"duration_ms"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Response)
		if result.Handler != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), colorize(colorCyan,
				fmt.Sprintf("(%s, %dms)", result.Handler, result.DurationMs)))
		}
		return nil
	},
}

// --- tasks ---

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List pending tasks and reminders",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/api/tasks")
		if err != nil {
			return err
		}

		var result struct {
			Tasks []struct {
				ID       string    `json:"id"`
				Title    string    `json:"title"`
				DueDate  time.Time `json:"due_date"`
				Priority int       `json:"priority"`
				Status   string    `json:"status"`
			} `json:"tasks"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Tasks) == 0 {
			fmt.Println("No pending tasks.")
			return nil
		}

		for _, t := range result.Tasks {
			marker := " "
			if t.Priority == 1 {
				marker = colorize(colorRed, "!")
			}
			fmt.Printf("%s %s  %s  %s\n",
				marker,
				colorize(colorCyan, shortID(t.ID)),
				t.DueDate.Format("Mon Jan 2 15:04"),
				t.Title,
			)
		}
		return nil
	},
}

// --- devices ---

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List connected smart home devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/api/devices")
		if err != nil {
			return err
		}

		var result struct {
			Devices []struct {
				ID          string `json:"id"`
				Type        string `json:"type"`
				State       string `json:"state"`
				Integration string `json:"integration"`
			} `json:"devices"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Devices) == 0 {
			fmt.Println("No devices found.")
			return nil
		}

		for _, d := range result.Devices {
			fmt.Printf("%s  %-12s %s\n",
				colorize(colorBold, fmt.Sprintf("%-20s", d.ID)),
				d.Type,
				d.State,
			)
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
