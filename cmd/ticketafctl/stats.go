package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

type statsResult struct {
	TotalMessages   int `json:"total_messages"`
	TotalDeliveries int `json:"total_deliveries"`
	TotalRead       int `json:"total_read"`
	Message         *struct {
		MessageID string `json:"message_id"`
		SentCount int    `json:"sent_count"`
		ReadCount int    `json:"read_count"`
	} `json:"message"`
}

func newStatsCmd() *cobra.Command {
	var messageID string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show delivery and read totals, optionally for one message",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			path := "/api/admin/notifications/stats"
			if messageID != "" {
				path += "?message_id=" + url.QueryEscape(messageID)
			}

			var res statsResult
			if err := c.do("GET", path, nil, nil, &res); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "messages:   %d\n", res.TotalMessages)
			fmt.Fprintf(out, "deliveries: %d\n", res.TotalDeliveries)
			fmt.Fprintf(out, "read:       %d\n", res.TotalRead)
			if res.Message != nil {
				fmt.Fprintf(out, "\nmessage %s: sent %d, read %d\n", res.Message.MessageID, res.Message.SentCount, res.Message.ReadCount)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&messageID, "message", "", "Message id for per-message counts")
	return cmd
}
