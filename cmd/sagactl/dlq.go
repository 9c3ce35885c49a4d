package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/kafka"
	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/models"
)

var (
	dlqTopic string
	dlqLimit int
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect dead-lettered messages",
}

type deadLetterView struct {
	Offset        int64  `json:"offset"`
	Key           string `json:"key"`
	OriginalTopic string `json:"originalTopic"`
	OriginalOff   string `json:"originalOffset"`
	Exception     string `json:"exception"`
	UserID        int64  `json:"userId,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	Status        string `json:"status,omitempty"`
}

var dlqTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the newest dead-lettered messages without consuming them",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cfg.Kafka.Brokers) == 0 {
			return errors.New("no brokers configured")
		}
		topic := kafka.DeadLetterTopic(dlqTopic)

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		msgs, err := kafka.TailPartition(ctx, cfg.Kafka.Brokers[0], topic, 0, dlqLimit)
		if err != nil && len(msgs) == 0 {
			return err
		}

		views := make([]deadLetterView, 0, len(msgs))
		for _, m := range msgs {
			v := deadLetterView{
				Offset:        m.Offset,
				Key:           string(m.Key),
				OriginalTopic: kafka.HeaderValue(m, kafka.HeaderOriginalTopic),
				OriginalOff:   kafka.HeaderValue(m, kafka.HeaderOriginalOffset),
				Exception:     kafka.HeaderValue(m, kafka.HeaderExceptionMessage),
			}
			var event models.UserEvent
			if kafka.DecodeJSON(m, models.UserEventTypeID, &event) == nil {
				v.UserID = event.UserID
				v.TransactionID = event.TransactionID
				v.Status = string(event.Status)
			}
			views = append(views, v)
		}

		if jsonOutput {
			return printJSON(views)
		}

		heading(fmt.Sprintf("%s (last %d)", topic, dlqLimit))
		if len(views) == 0 {
			fmt.Printf("  %s[-] empty%s\n", Dim, Reset)
			return nil
		}
		fmt.Printf("  %s%-8s %-8s %-10s %-36s %s%s\n", Dim, "OFFSET", "USER", "STATUS", "TRANSACTION", "EXCEPTION", Reset)
		for _, v := range views {
			fmt.Printf("  %-8d %-8s %s%-10s%s %-36s %s\n",
				v.Offset, v.Key, statusColor(v.Status), v.Status, Reset, v.TransactionID, v.Exception)
		}
		if err != nil {
			fmt.Printf("  %s[!] partial read: %v%s\n", Yellow, err, Reset)
		}
		return nil
	},
}

func init() {
	dlqTailCmd.Flags().StringVar(&dlqTopic, "topic", cfg.Kafka.Topics.SyncResult, "source topic whose dead letters to read")
	dlqTailCmd.Flags().IntVar(&dlqLimit, "limit", 20, "number of newest messages to show")
	dlqCmd.AddCommand(dlqTailCmd)
}
