package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/services/scrapejobs"

	"github.com/spf13/cobra"
)

var jobAccount string

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Submit and inspect scrape jobs on a running scraperd.",
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a scrape job for an account.",
	Run: func(cmd *cobra.Command, args []string) {
		body, err := json.Marshal(map[string]string{"account_id": jobAccount})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		res, err := http.Post(serverUrl+"/jobs", "application/json", bytes.NewReader(body))
		if err != nil {
			fmt.Fprintln(os.Stderr, "request failed:", err)
			os.Exit(1)
		}
		defer res.Body.Close()

		if res.StatusCode != http.StatusAccepted {
			reply, _ := io.ReadAll(res.Body)
			fmt.Fprintf(os.Stderr, "server said %d: %s\n", res.StatusCode, reply)
			os.Exit(1)
		}

		var job scrapejobs.Job
		err = json.NewDecoder(res.Body).Decode(&job)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(job.Id)
	},
}

var jobShowCmd = &cobra.Command{
	Use:   "show <job id>",
	Short: "Print a job's status and, once completed, its rows.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		res, err := http.Get(fmt.Sprintf("%s/jobs/%s", serverUrl, args[0]))
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

		var job scrapejobs.Job
		err = json.NewDecoder(res.Body).Decode(&job)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		fmt.Println("status:", job.Status)
		if job.Error != "" {
			fmt.Println("error:", job.Error)
		}
		if job.Diagnostic != "" {
			fmt.Println("diagnostic:", job.Diagnostic)
		}
		if job.ChallengeId != "" {
			fmt.Println("waiting on challenge:", job.ChallengeId)
		}
		if job.Status == scrapejobs.StatusCompleted {
			renderRows(job.Rows)
		}
	},
}

func init() {
	jobCmd.PersistentFlags().StringVar(&serverUrl, "server", "http://localhost:8400", "base url of the scraperd instance")
	jobSubmitCmd.Flags().StringVarP(&jobAccount, "account", "a", "", "account id to scrape")
	jobSubmitCmd.MarkFlagRequired("account")

	jobCmd.AddCommand(jobSubmitCmd)
	jobCmd.AddCommand(jobShowCmd)
	rootCmd.AddCommand(jobCmd)
}
