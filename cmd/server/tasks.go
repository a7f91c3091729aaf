package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/ifuryst/cascade/internal/config"
	"github.com/ifuryst/cascade/internal/models"
	"github.com/ifuryst/cascade/internal/service"
	"github.com/ifuryst/cascade/internal/service/store"
	"github.com/ifuryst/cascade/pkg/util"
)

func newTasksCmd() *cobra.Command {
	var (
		userID   uint
		page     int
		pageSize int
	)

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List a user's publish tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			db, err := service.NewDatabase(&cfg.Database)
			if err != nil {
				return err
			}

			tasks, total, err := store.NewTaskStore(db).ListUserTasks(context.Background(), userID, page, pageSize)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTasks(tasks))
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d tasks\n", len(tasks), total)
			return nil
		},
	}

	cmd.Flags().UintVar(&userID, "user", 0, "owner user id")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "size", 20, "page size")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func renderTasks(tasks []models.PublishTask) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "Title", "Scheduled", "Status", "Remote ID", "Error"})

	for _, t := range tasks {
		scheduled := t.ScheduledAt.Format(models.RemoteTimeLayout)
		if t.Immediate {
			scheduled = "immediate"
		}
		tw.AppendRow(table.Row{
			strconv.FormatUint(uint64(t.ID), 10),
			util.Truncate(t.Title, 40),
			scheduled,
			string(t.Status),
			deref(t.RemoteTaskID),
			util.Truncate(deref(t.Error), 60),
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
