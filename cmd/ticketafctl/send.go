package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type sendRequest struct {
	TargetType  string `json:"target_type"`
	TargetValue string `json:"target_value,omitempty"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Type        string `json:"type,omitempty"`
}

type sendResult struct {
	MessageID      string `json:"message_id"`
	SentCount      int    `json:"sent_count"`
	Created        int    `json:"created"`
	AlreadyExisted int    `json:"already_existed"`
	EmptyAudience  bool   `json:"empty_audience"`
	Error          string `json:"error"`
}

func newSendCmd() *cobra.Command {
	var (
		req sendRequest
		key string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a notification to all users, a role or a single user",
		Example: `  ticketafctl send --target all --title "Grève" --body "Trafic perturbé"
  ticketafctl send --target role --value driver --title "Réunion" --body "Demain 9h"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Title == "" || req.Body == "" {
				return errors.New("--title and --body are required")
			}
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			if key == "" {
				key = uuid.NewString()
			}

			var res sendResult
			err = c.do("POST", "/api/admin/notifications/send", map[string]string{"Idempotency-Key": key}, req, &res)
			out := cmd.OutOrStdout()
			if res.MessageID != "" {
				fmt.Fprintf(out, "message:         %s\n", res.MessageID)
				fmt.Fprintf(out, "idempotency key: %s\n", key)
				fmt.Fprintf(out, "sent:            %d (created %d, already existed %d)\n", res.SentCount, res.Created, res.AlreadyExisted)
				if res.EmptyAudience {
					fmt.Fprintln(out, "warning: the target matched no recipients")
				}
			}
			if err != nil && res.MessageID != "" {
				return fmt.Errorf("fan-out incomplete, retry with --idempotency-key %s: %w", key, err)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&req.TargetType, "target", "all", "Target type: all, role or user")
	cmd.Flags().StringVar(&req.TargetValue, "value", "", "Role name or user id for role/user targets")
	cmd.Flags().StringVar(&req.Title, "title", "", "Notification title")
	cmd.Flags().StringVar(&req.Body, "body", "", "Notification body")
	cmd.Flags().StringVar(&req.Type, "type", "", "Message type: normal, system or announcement")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "Reuse a key to resume a failed send (generated when empty)")
	return cmd
}
