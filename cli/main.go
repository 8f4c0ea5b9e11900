package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	adminToken string
	Version    = "dev"
)

type WhitelistEntry struct {
	ID          uint   `json:"ID"`
	Type        string `json:"Type"`
	Identifier  string `json:"Identifier"`
	Secondary   string `json:"Secondary"`
	DisplayName string `json:"DisplayName"`
	Note        string `json:"Note"`
	AddedBy     string `json:"AddedBy"`
	IsActive    bool   `json:"IsActive"`
}

type Restriction struct {
	ID        uint       `json:"ID"`
	AccountID string     `json:"AccountID"`
	Reason    string     `json:"Reason"`
	AppliedAt time.Time  `json:"AppliedAt"`
	ExpiresAt *time.Time `json:"ExpiresAt"`
	LiftedAt  *time.Time `json:"LiftedAt"`
	LiftedBy  string     `json:"LiftedBy"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "irisctl",
		Short: "Iris - anti-cheat backend administration",
		Long:  "Manage detection whitelists, agent sessions and account restrictions",
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8443", "Iris server URL")
	rootCmd.PersistentFlags().StringVarP(&adminToken, "token", "t", os.Getenv("IRIS_ADMIN_TOKEN"), "Admin bearer token")

	rootCmd.AddCommand(
		whitelistCmd(),
		sessionsCmd(),
		restrictionsCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func whitelistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage the detection whitelist",
	}

	listCmd := &cobra.Command{
		Use:     "list [type]",
		Aliases: []string{"ls"},
		Short:   "List whitelist entries",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/whitelist"
			if len(args) == 1 {
				path += "?type=" + args[0]
			}
			var entries []WhitelistEntry
			if err := adminGet(path, &entries); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tIDENTIFIER\tSECONDARY\tNAME\tSTATE\tADDED BY\tNOTE")
			for _, e := range entries {
				state := "active"
				if !e.IsActive {
					state = "removed"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.ID, e.Type, e.Identifier, e.Secondary, e.DisplayName, state, e.AddedBy, e.Note)
			}
			return w.Flush()
		},
	}

	var note, secondary, displayName, addedBy string
	addCmd := &cobra.Command{
		Use:   "add [type] [identifier]",
		Short: "Add a whitelist entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]string{
				"type":         args[0],
				"identifier":   args[1],
				"secondary":    secondary,
				"display_name": displayName,
				"note":         note,
				"added_by":     addedBy,
			}
			var entry WhitelistEntry
			if err := adminSend(http.MethodPost, "/v1/whitelist", payload, &entry); err != nil {
				return err
			}
			fmt.Printf("Added entry %d: %s/%s\n", entry.ID, entry.Type, entry.Identifier)
			return nil
		},
	}
	addCmd.Flags().StringVar(&secondary, "secondary", "", "Secondary identifier (e.g. USB PID)")
	addCmd.Flags().StringVar(&displayName, "name", "", "Human readable device or product name")
	addCmd.Flags().StringVar(&note, "note", "", "Reason for whitelisting")
	addCmd.Flags().StringVar(&addedBy, "by", "", "Operator name")

	removeCmd := &cobra.Command{
		Use:     "remove [id]",
		Aliases: []string{"rm"},
		Short:   "Remove a whitelist entry",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := adminSend(http.MethodDelete, "/v1/whitelist/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Printf("Removed entry %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(listCmd, addCmd, removeCmd)
	return cmd
}

func sessionsCmd() *cobra.Command {
	var openOnly bool
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"ls", "list"},
		Short:   "List agent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/sessions"
			if openOnly {
				path += "?open=true"
			}
			var resp struct {
				Open     int `json:"open"`
				Sessions []struct {
					SessionID string    `json:"session_id"`
					AccountID string    `json:"account_id"`
					StartedAt time.Time `json:"started_at"`
					EndedAt   time.Time `json:"ended_at"`
					DurationS int64     `json:"duration_s"`
				} `json:"sessions"`
			}
			if err := adminGet(path, &resp); err != nil {
				return err
			}

			fmt.Printf("Open sessions: %d\n\n", resp.Open)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ACCOUNT\tSTARTED\tSTATE\tDURATION")
			for _, s := range resp.Sessions {
				state := "open"
				duration := time.Since(s.StartedAt).Round(time.Second).String()
				if !s.EndedAt.IsZero() {
					state = "closed"
					duration = (time.Duration(s.DurationS) * time.Second).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.AccountID, s.StartedAt.Format(time.RFC3339), state, duration)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&openOnly, "open", false, "Only show open sessions")
	return cmd
}

func restrictionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "restrictions",
		Aliases: []string{"bans"},
		Short:   "Manage account restrictions",
	}

	var activeOnly bool
	listCmd := &cobra.Command{
		Use:     "list [account-id]",
		Aliases: []string{"ls"},
		Short:   "List restrictions",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := []string{}
			if len(args) == 1 {
				params = append(params, "account_id="+args[0])
			}
			if activeOnly {
				params = append(params, "active=true")
			}
			path := "/v1/restrictions"
			if len(params) > 0 {
				path += "?" + strings.Join(params, "&")
			}

			var records []Restriction
			if err := adminGet(path, &records); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tACCOUNT\tAPPLIED\tEXPIRES\tSTATE\tREASON")
			for _, r := range records {
				expires := "never"
				if r.ExpiresAt != nil {
					expires = r.ExpiresAt.Format(time.RFC3339)
				}
				state := "active"
				if r.LiftedAt != nil {
					state = "lifted (" + r.LiftedBy + ")"
				} else if r.ExpiresAt != nil && time.Now().After(*r.ExpiresAt) {
					state = "expired"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.AccountID, r.AppliedAt.Format(time.RFC3339), expires, state, r.Reason)
			}
			return w.Flush()
		},
	}
	listCmd.Flags().BoolVar(&activeOnly, "active", false, "Only show active restrictions")

	var reason string
	var hours int
	var permanent bool
	banCmd := &cobra.Command{
		Use:   "apply [account-id]",
		Short: "Apply a manual restriction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" {
				return fmt.Errorf("--reason is required")
			}
			payload := map[string]any{
				"account_id":     args[0],
				"reason":         reason,
				"duration_hours": hours,
				"permanent":      permanent,
			}
			if err := adminSend(http.MethodPost, "/v1/restrictions", payload, nil); err != nil {
				return err
			}
			fmt.Printf("Restricted %s\n", args[0])
			return nil
		},
	}
	banCmd.Flags().StringVar(&reason, "reason", "", "Reason for the restriction")
	banCmd.Flags().IntVar(&hours, "hours", 0, "Duration in hours (default server policy)")
	banCmd.Flags().BoolVar(&permanent, "permanent", false, "Ban with no automatic lift")

	liftCmd := &cobra.Command{
		Use:     "lift [id]",
		Aliases: []string{"unban"},
		Short:   "Lift a restriction early",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := adminSend(http.MethodDelete, "/v1/restrictions/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Printf("Lifted restriction %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(listCmd, banCmd, liftCmd)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("irisctl version %s\n", Version)
		},
	}
}

func adminGet(path string, out any) error {
	return adminSend(http.MethodGet, path, nil, out)
}

func adminSend(method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
