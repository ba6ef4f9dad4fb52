package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatbi/chatbi/internal/config"
	"github.com/chatbi/chatbi/internal/guard"
	"github.com/chatbi/chatbi/internal/log"
)

var validateStrict bool

var validateCmd = &cobra.Command{
	Use:   "validate <records.json>",
	Short: "Validate knowledge records before import",
	Long: `validate reads a JSON array of knowledge records and runs each one
through the consistency guard without touching the store. Records are
objects with question, sql and optionally description, tags, rating,
usage_count, created_at and updated_at fields.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var records []map[string]any
		if err := json.Unmarshal(raw, &records); err != nil {
			return fmt.Errorf("parsing %s: %w", args[0], err)
		}

		level := guard.LevelStandard
		if validateStrict {
			level = guard.LevelStrict
		}

		g := guard.New(cfg, log.NewNop())
		invalid := 0
		for i, rec := range records {
			res := g.Validate(rec, level)
			if !res.Valid {
				invalid++
			}
			for _, issue := range res.Issues {
				fmt.Printf("record %d: [%s] %s: %s\n", i, issue.Severity, issue.Field, issue.Description)
				if issue.SuggestedFix != "" {
					fmt.Printf("  fix: %s\n", issue.SuggestedFix)
				}
			}
		}

		fmt.Printf("%d records checked, %d invalid\n", len(records), invalid)
		if invalid > 0 {
			return fmt.Errorf("%d of %d records failed validation", invalid, len(records))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "enable strict quality checks")
	rootCmd.AddCommand(validateCmd)
}
