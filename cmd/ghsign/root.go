package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/spf13/cobra"

	"github.com/defnot001/biomebot/common/id"
)

type options struct {
	secret   string
	url      string
	event    string
	delivery string
	timeout  time.Duration
}

// newRootCmd builds the ghsign command tree. Both commands read the secret from
// GITHUB_WEBHOOK_SECRET unless --secret is given.
func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "ghsign",
		Short: "Sign and replay GitHub webhook payloads",
		Long: `Developer tooling for the biomebot webhook endpoint. Computes the
X-Hub-Signature-256 header for a payload file and can post it to a running server.`,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.secret, "secret", os.Getenv("GITHUB_WEBHOOK_SECRET"), "Webhook signing secret")

	rootCmd.AddCommand(newCmdSign(opts))
	rootCmd.AddCommand(newCmdSend(opts))

	return rootCmd
}

func newCmdSign(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sign <payload-file>",
		Short: "Print the signature header for a payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readPayload(args[0])
			if err != nil {
				return err
			}
			sig, err := sign(opts.secret, body)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", github.SHA256SignatureHeader, sig)
			return nil
		},
	}
}

func newCmdSend(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <payload-file>",
		Short: "Sign a payload and post it to a webhook endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readPayload(args[0])
			if err != nil {
				return err
			}
			if opts.delivery == "" {
				if err := id.Init(1); err != nil {
					return fmt.Errorf("initializing id generator: %w", err)
				}
				opts.delivery = id.String(id.New())
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			status, respBody, err := send(ctx, opts, body)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n%s\n", status, http.StatusText(status), respBody)
			if status >= 300 {
				return fmt.Errorf("server answered %d", status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "http://localhost:8080/github", "Webhook endpoint")
	cmd.Flags().StringVarP(&opts.event, "event", "e", "issues", "Value of the X-GitHub-Event header")
	cmd.Flags().StringVar(&opts.delivery, "delivery", "", "Value of the X-GitHub-Delivery header (generated when empty)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")

	return cmd
}

func readPayload(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	return body, nil
}

func sign(secret string, body []byte) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("no secret given. Use --secret or set GITHUB_WEBHOOK_SECRET")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil)), nil
}

func send(ctx context.Context, opts *options, body []byte) (int, string, error) {
	sig, err := sign(opts.secret, body)
	if err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.url, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "GitHub-Hookshot/ghsign")
	req.Header.Set(github.EventTypeHeader, opts.event)
	req.Header.Set(github.DeliveryIDHeader, opts.delivery)
	req.Header.Set(github.SHA256SignatureHeader, sig)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("posting payload: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, string(respBody), nil
}
