// Package client contains Cobra CLI commands for Relay.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// APIURL resolves the server base URL from RELAY_HTTP, defaulting to the
// local server.
func APIURL() string {
	if v := os.Getenv("RELAY_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}

// NewQueueCommand constructs the `queue` command group and subcommands.
func NewQueueCommand() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue operations (enqueue, dequeue, ack, fail, status)",
		Long: `Queue operations against a running relay server.

Message Lifecycle:
  Queued → [dequeue] → Processing → [ack] → gone
                           ↓ (fail, attempts exhausted)
                       Dead Letter Queue

Commands:
  enqueue       Add a message to the queue
  dequeue       Lease the next message (optionally long-polling)
  ack           Mark a leased message as processed
  fail          Mark a leased message as failed (retry or dead-letter)
  status        Show queue lengths and lifetime counters
  dead-letters  List dead-lettered messages
  peek          List queued messages without leasing them`,
	}

	queueCmd.AddCommand(
		newQueueEnqueueCommand(),
		newQueueDequeueCommand(),
		newQueueAckCommand(),
		newQueueFailCommand(),
		newQueueStatusCommand(),
		newQueueDeadLettersCommand(),
		newQueuePeekCommand(),
	)
	return queueCmd
}

func newQueueEnqueueCommand() *cobra.Command {
	enqueueCmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a message",
		RunE: func(cmd *cobra.Command, _ []string) error {
			msgType, _ := cmd.Flags().GetString("type")
			payload, _ := cmd.Flags().GetString("payload")
			priority, _ := cmd.Flags().GetUint32("priority")

			raw := json.RawMessage(payload)
			if !json.Valid(raw) {
				return fmt.Errorf("--payload must be valid JSON")
			}
			body, _ := json.Marshal(map[string]any{
				"type":     msgType,
				"payload":  raw,
				"priority": priority,
			})
			return postAndPrint(cmd, APIURL()+"/api/queue/message", body)
		},
	}
	enqueueCmd.Flags().String("type", "", "Message type")
	enqueueCmd.Flags().String("payload", "{}", "Message payload (JSON)")
	enqueueCmd.Flags().Uint32("priority", 0, "Priority (0 is highest)")
	return enqueueCmd
}

func newQueueDequeueCommand() *cobra.Command {
	dequeueCmd := &cobra.Command{
		Use:   "dequeue",
		Short: "Lease the next message",
		RunE: func(cmd *cobra.Command, _ []string) error {
			timeoutSecs, _ := cmd.Flags().GetInt("timeout")
			url := APIURL() + "/api/queue/message"
			if timeoutSecs > 0 {
				url = fmt.Sprintf("%s?timeout=%d", url, timeoutSecs)
			}
			cli := &http.Client{Timeout: time.Duration(timeoutSecs+30) * time.Second}
			resp, err := cli.Get(url)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusNoContent {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "queue empty")
				return nil
			}
			return printBody(cmd, resp)
		},
	}
	dequeueCmd.Flags().Int("timeout", 0, "Long-poll timeout in seconds (0 returns immediately)")
	return dequeueCmd
}

func newQueueAckCommand() *cobra.Command {
	ackCmd := &cobra.Command{
		Use:   "ack <message-id>",
		Short: "Mark a leased message as processed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAndPrint(cmd, APIURL()+"/api/queue/message/"+args[0]+"/ack", nil)
		},
	}
	return ackCmd
}

func newQueueFailCommand() *cobra.Command {
	failCmd := &cobra.Command{
		Use:   "fail <message-id>",
		Short: "Mark a leased message as failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			body, _ := json.Marshal(map[string]string{"reason": reason})
			return postAndPrint(cmd, APIURL()+"/api/queue/message/"+args[0]+"/fail", body)
		},
	}
	failCmd.Flags().String("reason", "unspecified", "Failure reason")
	return failCmd
}

func newQueueStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue lengths and lifetime counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getAndPrint(cmd, APIURL()+"/api/queue/status")
		},
	}
}

func newQueueDeadLettersCommand() *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List dead-lettered messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return getAndPrint(cmd, fmt.Sprintf("%s/api/queue/dead-letters?limit=%d", APIURL(), limit))
		},
	}
	dlqCmd.Flags().Int("limit", 100, "Maximum records to list")
	return dlqCmd
}

func newQueuePeekCommand() *cobra.Command {
	peekCmd := &cobra.Command{
		Use:   "peek",
		Short: "List queued messages without leasing them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return getAndPrint(cmd, fmt.Sprintf("%s/api/queue/peek?limit=%d", APIURL(), limit))
		},
	}
	peekCmd.Flags().Int("limit", 100, "Maximum messages to list")
	return peekCmd
}

func postAndPrint(cmd *cobra.Command, url string, body []byte) error {
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printBody(cmd, resp)
}

func getAndPrint(cmd *cobra.Command, url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printBody(cmd, resp)
}

func printBody(cmd *cobra.Command, resp *http.Response) error {
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, b, "", "  ") == nil {
		b = pretty.Bytes()
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(bytes.TrimSpace(b)))
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
