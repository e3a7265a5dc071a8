package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-voice/internal/api"
	"github.com/nerrad567/gray-logic-voice/internal/device"
	"github.com/nerrad567/gray-logic-voice/internal/grammar"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/logging"
)

// errConflicts makes validate exit non-zero when any backend has conflicts.
var errConflicts = errors.New("mapping conflicts found")

var grammarCmd = &cobra.Command{
	Use:   "grammar <backend>",
	Short: "Print the grammar generated from a backend's stored mapping",
	Long: `Print the GBNF grammar generated from the stored mapping of a backend.

The grammar is generated offline from the database; the backend is not
contacted.

Example:
  graylogic-voice grammar home
  graylogic-voice grammar home --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			return fmt.Errorf("failed to read 'format' flag: %w", err)
		}
		return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, db *database.DB) error {
			if _, ok := cfg.Backend(args[0]); !ok {
				return fmt.Errorf("backend %q is not configured", args[0])
			}
			profiles, err := loadProfiles(cfg.Grammar)
			if err != nil {
				return err
			}
			reg, err := loadRegistry(ctx, db, args[0], quietLogger())
			if err != nil {
				return err
			}
			return writeGrammar(cmd.OutOrStdout(), grammar.Generate(reg.Snapshot(), profiles), format)
		})
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [backend...]",
	Short: "Report (device type, location) pairs shared by several devices",
	Long: `Report every (device type, location) pair shared by more than one
enabled device. Conflicting devices are left out of the grammar until
the conflict is resolved.

With no arguments every configured backend is checked. Exits non-zero
when a conflict is found.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, db *database.DB) error {
			ids := args
			if len(ids) == 0 {
				for _, b := range cfg.Backends {
					ids = append(ids, b.ID)
				}
			}

			found := false
			for _, id := range ids {
				if _, ok := cfg.Backend(id); !ok {
					return fmt.Errorf("backend %q is not configured", id)
				}
				reg, err := loadRegistry(ctx, db, id, quietLogger())
				if err != nil {
					return err
				}
				snap := reg.Snapshot()
				conflicts := snap.Conflicts()
				found = found || len(conflicts) > 0
				fmt.Fprint(cmd.OutOrStdout(), renderReport(newReportStyles(), id, snap.Revision(), len(snap.Eligible()), conflicts))
			}
			if found {
				return errConflicts
			}
			return nil
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the admin API",
	Long: `Mint a bearer token for the admin API, signed with security.jwt.secret.

The token is printed to stdout and is not stored.

Example:
  curl -H "Authorization: Bearer $(graylogic-voice token --subject ops)" \
    http://localhost:8090/api/v1/backends`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		subject, err := cmd.Flags().GetString("subject")
		if err != nil {
			return fmt.Errorf("failed to read 'subject' flag: %w", err)
		}
		ttl, err := cmd.Flags().GetDuration("ttl")
		if err != nil {
			return fmt.Errorf("failed to read 'ttl' flag: %w", err)
		}

		cfg, err := config.Load(getConfigPath())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		jwtCfg := cfg.Security.JWT
		if ttl > 0 {
			jwtCfg.AccessTokenTTL = int(ttl.Minutes())
		}

		token, expires, err := api.IssueToken(jwtCfg, subject)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "graylogic-voice %s (commit %s, built %s)\n", version, commit, date)
	},
}

func init() {
	grammarCmd.Flags().String("format", "gbnf", "output format: gbnf or json")
	tokenCmd.Flags().String("subject", "admin", "token subject, recorded in the audit log")
	tokenCmd.Flags().Duration("ttl", 0, "token lifetime (default security.jwt.access_token_ttl)")

	rootCmd.AddCommand(grammarCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

// withStore loads the config, opens the database and runs fn.
func withStore(ctx context.Context, fn func(context.Context, *config.Config, *database.DB) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // read-only use
	return fn(ctx, cfg, db)
}

// quietLogger keeps offline commands' stdout clean.
func quietLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, version)
}

func writeGrammar(w io.Writer, doc *grammar.Document, format string) error {
	switch format {
	case "gbnf", "":
		_, err := io.WriteString(w, doc.Text)
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	default:
		return fmt.Errorf("unknown format %q (want gbnf or json)", format)
	}
}

// reportStyles holds the styles of the validate report.
type reportStyles struct {
	Title lipgloss.Style
	OK    lipgloss.Style
	Bad   lipgloss.Style
	Pair  lipgloss.Style
	Dim   lipgloss.Style
}

func newReportStyles() reportStyles {
	return reportStyles{
		Title: lipgloss.NewStyle().Bold(true),
		OK:    lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff9f")),
		Bad:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5f5f")),
		Pair:  lipgloss.NewStyle().Foreground(lipgloss.Color("#ffaf00")).PaddingLeft(2),
		Dim:   lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")).PaddingLeft(4),
	}
}

// renderReport renders the conflict report of one backend.
func renderReport(st reportStyles, backendID string, revision uint64, eligible int, conflicts []device.Conflict) string {
	var b strings.Builder
	b.WriteString(st.Title.Render(fmt.Sprintf("%s (revision %d, %d eligible)", backendID, revision, eligible)))
	b.WriteString("\n")
	if len(conflicts) == 0 {
		b.WriteString(st.OK.Render("  no conflicts"))
		b.WriteString("\n")
		return b.String()
	}
	b.WriteString(st.Bad.Render(fmt.Sprintf("  %d conflicting pair(s)", len(conflicts))))
	b.WriteString("\n")
	for _, c := range conflicts {
		b.WriteString(st.Pair.Render(fmt.Sprintf("%s in %s", c.Pair.DeviceType, c.Pair.Location)))
		b.WriteString("\n")
		for _, id := range c.DeviceIDs {
			b.WriteString(st.Dim.Render(id))
			b.WriteString("\n")
		}
	}
	return b.String()
}
