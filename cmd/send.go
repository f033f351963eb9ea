package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mproxy/pkg/dispatch"
	"mproxy/pkg/message"

	"github.com/spf13/cobra"
)

var (
	sendText         string
	sendAttempts     int
	sendInitialDelay time.Duration
	sendMaxDelay     time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <channel> [text]",
	Short: "Deliver one message through a configured channel",
	Long:  "Builds the configured workers and delivers one message, retrying temporary failures up to --attempts times.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := resolveText(args[1:], cmd.InOrStdin())
		if err != nil {
			return err
		}

		msg, err := message.New(args[0], text)
		if err != nil {
			return err
		}

		_, collection, log, err := bootstrap("cmd.send")
		if err != nil {
			return err
		}

		controller := dispatch.New(collection, nil, log)
		policy := dispatch.RetryPolicy{
			MaxAttempts:  sendAttempts,
			InitialDelay: sendInitialDelay,
			MaxDelay:     sendMaxDelay,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result := dispatch.Retry(ctx, controller.Send, msg, policy, func(attempt int, delay time.Duration, last dispatch.Result) {
			log.Warn("Retrying delivery", "channel", msg.Channel, "attempt", attempt, "delay", delay, "status", last.Status)
		})

		return printResult(cmd.OutOrStdout(), result)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&sendText, "text", "t", "", "message text (default: remaining args, then stdin)")
	sendCmd.Flags().IntVar(&sendAttempts, "attempts", 3, "maximum delivery attempts for temporary failures")
	sendCmd.Flags().DurationVar(&sendInitialDelay, "initial-delay", time.Second, "first backoff delay when the channel gives no hint")
	sendCmd.Flags().DurationVar(&sendMaxDelay, "max-delay", 30*time.Second, "upper bound for any retry delay")
}

// resolveText picks the message text from --text, the positional args, or stdin, in that order.
func resolveText(args []string, stdin io.Reader) (string, error) {
	if value := strings.TrimSpace(sendText); value != "" {
		return value, nil
	}

	if value := strings.TrimSpace(strings.Join(args, " ")); value != "" {
		return value, nil
	}

	if stdin == nil {
		return "", nil
	}

	raw, err := io.ReadAll(io.LimitReader(stdin, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read message from stdin: %w", err)
	}

	return strings.TrimSpace(string(raw)), nil
}

// printResult writes the response body as JSON and turns a failed delivery into an error.
func printResult(w io.Writer, result dispatch.Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result.Body); err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	if result.OK() {
		return nil
	}
	if result.Err != nil {
		return fmt.Errorf("send failed with status %d: %w", result.Status, result.Err)
	}

	return fmt.Errorf("send failed with status %d", result.Status)
}
