package scrapejobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/cookiestore"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/events"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/portal"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/portal/portaltest"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/sqliteutil"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/telemetry"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/services/challenges"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/services/scrapejobs"

	"github.com/stretchr/testify/require"
)

const account = "kurs-1234"

type harness struct {
	server  *portaltest.Server
	grid    *portaltest.Grid
	cookies *cookiestore.Store
	bus     *events.Bus
	broker  *challenges.Broker
	service *scrapejobs.Service
}

// setup wires a service against a fresh fake portal. A nil credential
// store means "the working portal credentials are on file".
func setup(t *testing.T, creds scrapejobs.CredentialStore) *harness {
	cleanup := telemetry.SetupForTesting(t, "test:services/scrapejobs")
	t.Cleanup(cleanup)

	server := portaltest.New(t)
	grid := portaltest.NewGrid(server)

	db, err := sqliteutil.OpenDB(cookiestore.Schema, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := events.NewBus()
	broker := challenges.NewBroker(bus, challenges.Options{Timeout: time.Second * 10})
	cookies := cookiestore.NewStore(db)

	if creds == nil {
		creds = scrapejobs.StaticCredentials{
			account: portal.Credentials{Username: server.Username, Password: server.Password},
		}
	}
	service := scrapejobs.NewService(cookies, creds, broker, bus, scrapejobs.Options{
		Endpoints: server.Endpoints(),
	})
	return &harness{
		server:  server,
		grid:    grid,
		cookies: cookies,
		bus:     bus,
		broker:  broker,
		service: service,
	}
}

func waitForJob(t *testing.T, service *scrapejobs.Service, id string) scrapejobs.Job {
	t.Helper()
	var job scrapejobs.Job
	require.Eventually(t, func() bool {
		j, ok := service.Job(id)
		if !ok {
			return false
		}
		job = j
		return j.Status == scrapejobs.StatusCompleted || j.Status == scrapejobs.StatusFailed
	}, time.Second*60, time.Millisecond*25)
	return job
}

// awaitChallenge drains the account topic until a challenge is raised.
func awaitChallenge(t *testing.T, sub *events.Subscription) challenges.Challenge {
	t.Helper()
	for {
		select {
		case msg := <-sub.C:
			if msg.Kind != "challenge_raised" {
				continue
			}
			challenge, ok := msg.Payload.(challenges.Challenge)
			require.True(t, ok)
			return challenge
		case <-time.After(time.Second * 30):
			t.Fatal("no challenge was raised")
			return challenges.Challenge{}
		}
	}
}

func TestJobScrapesAndPersistsSession(t *testing.T) {
	h := setup(t, nil)

	job, err := h.service.Submit(context.Background(), account)
	require.NoError(t, err)
	require.Equal(t, scrapejobs.StatusCreated, job.Status)

	job = waitForJob(t, h.service, job.Id)
	require.Equal(t, scrapejobs.StatusCompleted, job.Status)
	require.Len(t, job.Rows, 9)
	require.Equal(t, h.server.Token, job.RelayToken)
	require.Empty(t, job.Diagnostic)
	require.Equal(t, 1, h.server.LoginCount())

	record, found, err := h.cookies.Load(context.Background(), account)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, record.Valid)
	require.NotEmpty(t, record.Blob)
}

func TestSecondJobReusesStoredSession(t *testing.T) {
	h := setup(t, nil)

	first, err := h.service.Submit(context.Background(), account)
	require.NoError(t, err)
	first = waitForJob(t, h.service, first.Id)
	require.Equal(t, scrapejobs.StatusCompleted, first.Status)
	require.Equal(t, 1, h.server.LoginCount())

	second, err := h.service.Submit(context.Background(), account)
	require.NoError(t, err)
	second = waitForJob(t, h.service, second.Id)
	require.Equal(t, scrapejobs.StatusCompleted, second.Status)
	require.Len(t, second.Rows, 9)

	// the stored session carried the second job, no fresh login happened
	require.Equal(t, 1, h.server.LoginCount())
}

func TestInvalidatedSessionSkipsProbe(t *testing.T) {
	h := setup(t, nil)

	first, err := h.service.Submit(context.Background(), account)
	require.NoError(t, err)
	waitForJob(t, h.service, first.Id)
	probes := h.server.HomeCount()

	// an invalidated record means "known dead", the next job must go
	// straight to login instead of wasting a probe on the home page
	require.NoError(t, h.cookies.Invalidate(context.Background(), account))

	second, err := h.service.Submit(context.Background(), account)
	require.NoError(t, err)
	second = waitForJob(t, h.service, second.Id)
	require.Equal(t, scrapejobs.StatusCompleted, second.Status)
	require.Equal(t, probes, h.server.HomeCount())
	require.Equal(t, 2, h.server.LoginCount())
}

func TestSameAccountJobsSerialize(t *testing.T) {
	h := setup(t, nil)
	sub := h.bus.Subscribe("account/" + account)
	defer sub.Close()

	first, err := h.service.Submit(context.Background(), account)
	require.NoError(t, err)
	second, err := h.service.Submit(context.Background(), account)
	require.NoError(t, err)

	waitForJob(t, h.service, first.Id)
	waitForJob(t, h.service, second.Id)

	// replay the status stream: one job must fully finish before the
	// other one starts doing anything
	started := map[string]bool{}
	finished := map[string]bool{}
	for len(finished) < 2 {
		select {
		case msg := <-sub.C:
			job, ok := msg.Payload.(scrapejobs.Job)
			require.True(t, ok)
			switch job.Status {
			case scrapejobs.StatusAuthenticating:
				if !started[job.Id] {
					started[job.Id] = true
					for other := range started {
						if other != job.Id {
							require.True(
								t, finished[other],
								"job %s started while %s was still running", job.Id, other,
							)
						}
					}
				}
			case scrapejobs.StatusCompleted, scrapejobs.StatusFailed:
				finished[job.Id] = true
			}
		case <-time.After(time.Second * 10):
			t.Fatal("timed out draining the status stream")
		}
	}
}

func TestRejectedCredentialsRaiseChallenge(t *testing.T) {
	h := setup(t, nil)
	h.service = scrapejobs.NewService(
		h.cookies,
		scrapejobs.StaticCredentials{
			account: portal.Credentials{Username: h.server.Username, Password: "eski_sifre"},
		},
		h.broker, h.bus,
		scrapejobs.Options{Endpoints: h.server.Endpoints()},
	)
	sub := h.bus.Subscribe("account/" + account)
	defer sub.Close()

	job, err := h.service.Submit(context.Background(), account)
	require.NoError(t, err)

	// play operator: answer the challenge with the working password
	challenge := awaitChallenge(t, sub)
	require.Equal(t, challenges.KindCredentials, challenge.Kind)
	require.Equal(t, h.server.ErrorLabel, challenge.Prompt)

	err = h.broker.Resolve(context.Background(), challenge.Id, challenges.Payload{
		Username: h.server.Username,
		Password: h.server.Password,
	})
	require.NoError(t, err)

	job = waitForJob(t, h.service, job.Id)
	require.Equal(t, scrapejobs.StatusCompleted, job.Status)
	require.Len(t, job.Rows, 9)
	// the rejected attempt plus the operator-assisted one
	require.Equal(t, 2, h.server.LoginCount())
}

func TestMidScrapeCredentialRotationRaisesChallenge(t *testing.T) {
	h := setup(t, nil)

	first, err := h.service.Submit(context.Background(), account)
	require.NoError(t, err)
	first = waitForJob(t, h.service, first.Id)
	require.Equal(t, scrapejobs.StatusCompleted, first.Status)

	sub := h.bus.Subscribe("account/" + account)
	defer sub.Close()

	// the kurs rotates its password while the stored session is still
	// alive, then the portal drops that session mid-grid: the re-login
	// bounces and must pull an operator in instead of failing the job
	h.server.Password = "yeni_sifre"
	h.grid.KillAt = 8 // the second filter post of the next job

	second, err := h.service.Submit(context.Background(), account)
	require.NoError(t, err)

	challenge := awaitChallenge(t, sub)
	require.Equal(t, challenges.KindCredentials, challenge.Kind)
	require.Equal(t, h.server.ErrorLabel, challenge.Prompt)

	err = h.broker.Resolve(context.Background(), challenge.Id, challenges.Payload{
		Username: h.server.Username,
		Password: "yeni_sifre",
	})
	require.NoError(t, err)

	second = waitForJob(t, h.service, second.Id)
	require.Equal(t, scrapejobs.StatusCompleted, second.Status)
	require.Len(t, second.Rows, 9)
	// the first job's login, the rejected re-login, the assisted one
	require.Equal(t, 3, h.server.LoginCount())
}

func TestOneTimeCodeRaisesChallenge(t *testing.T) {
	h := setup(t, nil)
	h.server.RequireCode = true
	sub := h.bus.Subscribe("account/" + account)
	defer sub.Close()

	job, err := h.service.Submit(context.Background(), account)
	require.NoError(t, err)

	challenge := awaitChallenge(t, sub)
	require.Equal(t, challenges.KindOneTimeCode, challenge.Kind)
	require.Equal(t, h.server.CodePrompt, challenge.Prompt)

	err = h.broker.Resolve(context.Background(), challenge.Id, challenges.Payload{
		Code: h.server.Code,
	})
	require.NoError(t, err)

	job = waitForJob(t, h.service, job.Id)
	require.Equal(t, scrapejobs.StatusCompleted, job.Status)
	require.Len(t, job.Rows, 9)
	require.Equal(t, h.server.Token, job.RelayToken)
}

func TestUnansweredChallengeFailsJob(t *testing.T) {
	h := setup(t, nil)
	broker := challenges.NewBroker(h.bus, challenges.Options{Timeout: time.Millisecond * 100})
	h.service = scrapejobs.NewService(
		h.cookies,
		scrapejobs.StaticCredentials{
			account: portal.Credentials{Username: h.server.Username, Password: "eski_sifre"},
		},
		broker, h.bus,
		scrapejobs.Options{Endpoints: h.server.Endpoints()},
	)

	job, err := h.service.Submit(context.Background(), account)
	require.NoError(t, err)

	job = waitForJob(t, h.service, job.Id)
	require.Equal(t, scrapejobs.StatusFailed, job.Status)
	require.Contains(t, job.Error, "timed out")
}

func TestMissingCredentialsFailJob(t *testing.T) {
	h := setup(t, nil)
	h.service = scrapejobs.NewService(
		h.cookies, scrapejobs.StaticCredentials{}, h.broker, h.bus,
		scrapejobs.Options{Endpoints: h.server.Endpoints()},
	)

	job, err := h.service.Submit(context.Background(), account)
	require.NoError(t, err)

	job = waitForJob(t, h.service, job.Id)
	require.Equal(t, scrapejobs.StatusFailed, job.Status)
	require.Contains(t, job.Error, "no credentials on file")
}
