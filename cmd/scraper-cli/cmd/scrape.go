package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/portal"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/scrape"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	portalUrl string
	username  string
	password  string
	outerCap  int
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Log into the portal and dump the candidate grid as a table.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		client, err := portal.NewClient(ctx, portal.ClientOptions{
			Endpoints: portal.Endpoints{BaseUrl: portalUrl},
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to create portal client:", err)
			os.Exit(1)
		}

		creds := portal.Credentials{Username: username, Password: password}
		_, err = client.Login(ctx, creds)
		if err != nil {
			fmt.Fprintln(os.Stderr, "login failed:", err)
			os.Exit(1)
		}

		relogin := func(ctx context.Context) error {
			_, err := client.Login(ctx, creds)
			return err
		}
		runner := scrape.NewRunner(client, relogin, scrape.Options{OuterCap: outerCap})

		result, err := runner.Run(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "scrape failed:", err)
			os.Exit(1)
		}
		if result.Diagnostic != "" {
			fmt.Fprintln(os.Stderr, "warning:", result.Diagnostic)
		}

		renderRows(result.Rows)
	},
}

func init() {
	scrapeCmd.Flags().StringVar(&portalUrl, "url", "", "base url of the portal")
	scrapeCmd.Flags().StringVarP(&username, "username", "u", "", "portal username")
	scrapeCmd.Flags().StringVarP(&password, "password", "p", "", "portal password")
	scrapeCmd.Flags().IntVar(&outerCap, "periods", 0, "how many exam periods to scrape, newest first (0 = default)")
	scrapeCmd.MarkFlagRequired("url")
	scrapeCmd.MarkFlagRequired("username")
	scrapeCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(scrapeCmd)
}

func renderRows(rows []scrape.Row) {
	if len(rows) == 0 {
		fmt.Println("no candidates found")
		return
	}

	columns := map[string]bool{}
	for _, row := range rows {
		for column := range row {
			columns[column] = true
		}
	}
	var ordered []string
	for column := range columns {
		ordered = append(ordered, column)
	}
	sort.Strings(ordered)

	t := newTable()
	header := table.Row{}
	for _, column := range ordered {
		header = append(header, column)
	}
	t.AppendHeader(header)

	for _, row := range rows {
		cells := table.Row{}
		for _, column := range ordered {
			cells = append(cells, row[column])
		}
		t.AppendRow(cells)
	}
	t.Render()
}
