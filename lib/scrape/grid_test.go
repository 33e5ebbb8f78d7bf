package scrape_test

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/portal"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/portal/portaltest"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/scrape"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*portaltest.Server, *portaltest.Grid, *portal.Client) {
	cleanup := telemetry.SetupForTesting(t, "test:lib/scrape")
	t.Cleanup(cleanup)

	server := portaltest.New(t)
	grid := portaltest.NewGrid(server)

	client, err := portal.NewClient(context.Background(), portal.ClientOptions{
		Endpoints: server.Endpoints(),
	})
	require.NoError(t, err)
	_, err = client.Login(context.Background(), portal.Credentials{
		Username: server.Username,
		Password: server.Password,
	})
	require.NoError(t, err)
	return server, grid, client
}

func noRelogin(t *testing.T) scrape.ReloginFunc {
	return func(ctx context.Context) error {
		t.Error("unexpected re-login")
		return fmt.Errorf("unexpected re-login")
	}
}

func TestRunWalksEveryPair(t *testing.T) {
	_, grid, client := setup(t)
	runner := scrape.NewRunner(client, noRelogin(t), scrape.Options{})

	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Empty(t, result.Diagnostic)
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Len(t, result.Rows, 9)

	// outer-major order, the placeholder period "0" never submitted
	require.Equal(t, []string{
		"20261/1", "20261/2", "20261/3",
		"20262/1", "20262/2", "20262/3",
	}, grid.PostLog())

	// column names come out normalized, photo cells yield the img src,
	// and every row carries the status it was fetched under
	var expected []scrape.Row
	for pair, fixtures := range portaltest.DefaultRows() {
		status := strings.Split(pair, "/")[1]
		for _, fixture := range fixtures {
			expected = append(expected, scrape.Row{
				"fotograf":     fixture[0],
				"ogrenci_adi":  fixture[1],
				"tc_kimlik_no": fixture[2],
				"status":       status,
			})
		}
	}
	diff := cmp.Diff(expected, result.Rows, cmpopts.SortSlices(func(a, b scrape.Row) bool {
		return a["tc_kimlik_no"] < b["tc_kimlik_no"]
	}))
	require.Empty(t, diff)
}

func TestRunHonorsOuterCap(t *testing.T) {
	_, grid, client := setup(t)
	runner := scrape.NewRunner(client, noRelogin(t), scrape.Options{OuterCap: 1})

	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Rows, 3)
	require.Equal(t, []string{"20261/1", "20261/2", "20261/3"}, grid.PostLog())
}

func TestRunRecoversFromOneSessionLoss(t *testing.T) {
	server, grid, client := setup(t)
	grid.KillAt = 4

	relogins := 0
	relogin := func(ctx context.Context) error {
		relogins++
		_, err := client.Login(ctx, portal.Credentials{
			Username: server.Username,
			Password: server.Password,
		})
		return err
	}
	runner := scrape.NewRunner(client, relogin, scrape.Options{})

	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, relogins)
	// nothing lost: the interrupted pair was retried after the re-login
	require.Len(t, result.Rows, 9)
	require.Equal(t, []string{
		"20261/1", "20261/2", "20261/3",
		"20262/1", "20262/2", "20262/3",
	}, grid.PostLog())
}

func TestRunAbortsOnSecondSessionLoss(t *testing.T) {
	server, grid, client := setup(t)
	grid.KillEvery = true

	relogins := 0
	relogin := func(ctx context.Context) error {
		relogins++
		_, err := client.Login(ctx, portal.Credentials{
			Username: server.Username,
			Password: server.Password,
		})
		return err
	}
	runner := scrape.NewRunner(client, relogin, scrape.Options{})

	result, err := runner.Run(context.Background())
	require.ErrorIs(t, err, portal.ErrSessionExpired)
	require.False(t, result.Success)
	require.Equal(t, 1, relogins)
	require.Empty(t, grid.PostLog())
}

func TestRunIsolatesPairFailures(t *testing.T) {
	_, grid, client := setup(t)
	grid.Broken["20262/2"] = true
	runner := scrape.NewRunner(client, noRelogin(t), scrape.Options{})

	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "1 pair(s) failed and were skipped", result.Diagnostic)
	// every other pair still contributed its rows
	require.Len(t, result.Rows, 8)
}
