package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/services/challenges"

	"github.com/spf13/cobra"
)

var (
	serverUrl  string
	answerUser string
	answerPass string
	answerCode string
)

var challengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Inspect and answer login challenges on a running scraperd.",
}

var challengeResolveCmd = &cobra.Command{
	Use:   "resolve <challenge id>",
	Short: "Answer a pending challenge with credentials or a one-time code.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		payload := challenges.Payload{
			Username: answerUser,
			Password: answerPass,
			Code:     answerCode,
		}
		body, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		res, err := http.Post(
			fmt.Sprintf("%s/challenges/%s", serverUrl, args[0]),
			"application/json",
			bytes.NewReader(body),
		)
		if err != nil {
			fmt.Fprintln(os.Stderr, "request failed:", err)
			os.Exit(1)
		}
		defer res.Body.Close()

		if res.StatusCode != http.StatusOK {
			reply, _ := io.ReadAll(res.Body)
			fmt.Fprintf(os.Stderr, "server said %d: %s\n", res.StatusCode, reply)
			os.Exit(1)
		}
		fmt.Println("challenge resolved")
	},
}

var challengeShowCmd = &cobra.Command{
	Use:   "show <challenge id>",
	Short: "Print a pending challenge.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		res, err := http.Get(fmt.Sprintf("%s/challenges/%s", serverUrl, args[0]))
		if err != nil {
			fmt.Fprintln(os.Stderr, "request failed:", err)
			os.Exit(1)
		}
		defer res.Body.Close()

		var challenge challenges.Challenge
		err = json.NewDecoder(res.Body).Decode(&challenge)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		t := newTable()
		t.AppendRow([]any{"id", challenge.Id})
		t.AppendRow([]any{"account", challenge.AccountId})
		t.AppendRow([]any{"kind", challenge.Kind})
		t.AppendRow([]any{"prompt", challenge.Prompt})
		t.AppendRow([]any{"state", challenge.State})
		t.AppendRow([]any{"expires at", challenge.ExpiresAt})
		t.Render()
	},
}

func init() {
	challengeCmd.PersistentFlags().StringVar(&serverUrl, "server", "http://localhost:8400", "base url of the scraperd instance")
	challengeResolveCmd.Flags().StringVarP(&answerUser, "username", "u", "", "replacement portal username")
	challengeResolveCmd.Flags().StringVarP(&answerPass, "password", "p", "", "replacement portal password")
	challengeResolveCmd.Flags().StringVar(&answerCode, "code", "", "one-time code from the portal")

	challengeCmd.AddCommand(challengeResolveCmd)
	challengeCmd.AddCommand(challengeShowCmd)
	rootCmd.AddCommand(challengeCmd)
}
