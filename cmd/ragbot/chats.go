package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var showAllChats bool

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List Telegram dialogs with their saved message counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.TelegramConfigured() {
			return errNoChatPlatform
		}
		comps := buildComponents(cmd.Context(), cfg)
		defer comps.Close()

		var targets []string
		if !showAllChats {
			targets = cfg.TargetChats
		}
		chats, err := comps.chatService(targets).ListChats(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tNAME\tUSERNAME\tSAVED")
		for _, c := range chats {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", c.ID, c.Type, c.Name, c.Username, c.MessageCount)
		}
		return w.Flush()
	},
}

func init() {
	chatsCmd.Flags().BoolVarP(&showAllChats, "all", "a", false, "show every dialog, not only the target chats")
}
