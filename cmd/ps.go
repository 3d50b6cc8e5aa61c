package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/playpenhq/playpen/utils"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List game server instances with status",
	RunE:  runPS,
}

func runPS(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	orch, err := initOrchestrator()
	if err != nil {
		return err
	}

	insts, err := orch.List(ctx)
	if err != nil {
		return fmt.Errorf("ps: %w", err)
	}
	if len(insts) == 0 {
		fmt.Println("No instances found.")
		return nil
	}

	sort.Slice(insts, func(i, j int) bool { return insts[i].CreatedAt.Before(insts[j].CreatedAt) })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATE\tPORT\tIMAGE\tCREATED")
	for _, inst := range insts {
		port := "-"
		if inst.Port > 0 {
			port = fmt.Sprintf("%d", inst.Port)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			utils.ShortID(inst.ID),
			inst.Config.Name,
			inst.State,
			port,
			inst.Image,
			inst.CreatedAt.Local().Format(time.DateTime),
		)
	}
	w.Flush() //nolint:errcheck,gosec
	return nil
}
