package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bazelment/prettycode/render"
	"github.com/bazelment/prettycode/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage saved conversations",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved conversations, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		summaries, err := st.List()
		if err != nil {
			return err
		}
		writeSummaries(cmd.OutOrStdout(), summaries, st.CurrentID())
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print a saved conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		conv, err := st.Get(args[0])
		if err != nil {
			return err
		}
		r, err := render.New(terminalWidth(), markdownStyle())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (%s)\n\n", conv.Title, conv.ID)
		for i, t := range conv.Turns() {
			fmt.Fprintln(out, r.Turn(i, t))
		}
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a saved conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		return st.Delete(args[0])
	},
}

var historyRenameCmd = &cobra.Command{
	Use:   "rename ID TITLE",
	Short: "Rename a saved conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		return st.Rename(args[0], strings.Join(args[1:], " "))
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd, historyRenameCmd)
}

func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.NewStore(cfg.StoreDir, store.WithMaxConversations(cfg.MaxConversations))
}
