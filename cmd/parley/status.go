package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/gorm"

	"github.com/zulandar/parley/internal/db"
	"github.com/zulandar/parley/internal/models"
)

func newStatusCmd() *cobra.Command {
	var (
		configPath string
		watch      bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent sessions and their outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, watch, limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "refresh every 5 seconds")
	cmd.Flags().IntVar(&limit, "limit", 10, "number of sessions to show")
	return cmd
}

func runStatus(cmd *cobra.Command, configPath string, watch bool, limit int) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	clear := watch && term.IsTerminal(int(os.Stdout.Fd()))

	for {
		if clear {
			fmt.Fprint(out, "\033[2J\033[H")
		}
		if err := renderStatus(out, gormDB, limit); err != nil {
			return err
		}
		if !watch {
			return nil
		}
		time.Sleep(5 * time.Second)
	}
}

// renderStatus prints the most recent sessions with deal counts and spend
// pulled from the outcome archive.
func renderStatus(out io.Writer, gormDB *gorm.DB, limit int) error {
	var negotiations []models.Negotiation
	if err := gormDB.Order("created_at DESC").Limit(limit).Find(&negotiations).Error; err != nil {
		return fmt.Errorf("query sessions: %w", err)
	}
	if len(negotiations) == 0 {
		fmt.Fprintln(out, "No sessions recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tITEM\tSTATUS\tROOMS\tDEALS\tSPEND\tSTARTED")
	for _, n := range negotiations {
		var outcomes []models.RoomOutcome
		if err := gormDB.Where("session_id = ?", n.SessionID).Find(&outcomes).Error; err != nil {
			return fmt.Errorf("query outcomes for %s: %w", n.SessionID, err)
		}

		deals := 0
		var spend float64
		for _, o := range outcomes {
			if o.Success {
				deals++
				spend += o.TotalCost
			}
		}
		spendCell := "-"
		if deals > 0 {
			spendCell = formatPrice(spend)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			n.SessionID, truncate(n.ItemName, 30), n.Status, n.Rooms,
			deals, spendCell, n.CreatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
	return nil
}
