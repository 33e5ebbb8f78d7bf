// Package scrapejobs runs candidate scrapes as asynchronous jobs. A job
// reuses the account's stored session when it still holds, logs in
// otherwise (pulling an operator into the loop when the portal rejects
// the stored credentials), walks the listing grid, and persists the
// freshest cookies back for the next job. Jobs for the same account never
// overlap.
package scrapejobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/cookiestore"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/events"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/keylock"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/portal"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/scrape"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/timezone"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/services/challenges"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/scrapejobs")

type Status string

const (
	StatusCreated           Status = "created"
	StatusAuthenticating    Status = "authenticating"
	StatusAwaitingChallenge Status = "awaiting_challenge"
	StatusScraping          Status = "scraping"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
)

type Job struct {
	Id        string `json:"id"`
	AccountId string `json:"account_id"`
	Status    Status `json:"status"`

	// set while the job is blocked on an operator
	ChallengeId string `json:"challenge_id,omitempty"`
	// the realtime channel token from the most recent login
	RelayToken string `json:"relay_token,omitempty"`

	Rows       []scrape.Row `json:"rows,omitempty"`
	Diagnostic string       `json:"diagnostic,omitempty"`
	Error      string       `json:"error,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

// CredentialStore supplies the portal credentials on file for an account.
type CredentialStore interface {
	Credentials(ctx context.Context, accountId string) (portal.Credentials, error)
}

// StaticCredentials is a CredentialStore backed by a fixed map, enough
// for the CLI and for single-tenant deployments configured from a file.
type StaticCredentials map[string]portal.Credentials

func (s StaticCredentials) Credentials(ctx context.Context, accountId string) (portal.Credentials, error) {
	creds, ok := s[accountId]
	if !ok {
		return portal.Credentials{}, fmt.Errorf("no credentials on file for account %q", accountId)
	}
	return creds, nil
}

type Options struct {
	Endpoints portal.Endpoints `json:"endpoints"`
	Grid      scrape.Options   `json:"grid"`
	// hard deadline for a single job, 30 minutes when zero
	JobTimeout time.Duration `json:"job_timeout"`
}

type Service struct {
	cookies *cookiestore.Store
	creds   CredentialStore
	broker  *challenges.Broker
	bus     *events.Bus
	locks   *keylock.Locker
	options Options

	mu sync.Mutex
	// finished jobs linger half a day so their results stay queryable
	jobs *expirable.LRU[string, *Job]
	// authenticated clients from recent jobs, keyed by account id
	clients *expirable.LRU[string, *portal.Client]
}

func NewService(
	cookies *cookiestore.Store,
	creds CredentialStore,
	broker *challenges.Broker,
	bus *events.Bus,
	options Options,
) *Service {
	if options.JobTimeout == 0 {
		options.JobTimeout = time.Minute * 30
	}
	return &Service{
		cookies: cookies,
		creds:   creds,
		broker:  broker,
		bus:     bus,
		locks:   keylock.New(),
		options: options,
		jobs:    expirable.NewLRU[string, *Job](1024, nil, time.Hour*12),
		clients: expirable.NewLRU[string, *portal.Client](256, nil, time.Minute*30),
	}
}

// Submit enqueues a scrape for the account and returns immediately. The
// job serializes behind any other job for the same account.
func (s *Service) Submit(ctx context.Context, accountId string) (Job, error) {
	_, span := tracer.Start(ctx, "service:Submit")
	defer span.End()

	job := &Job{
		Id:          uuid.NewString(),
		AccountId:   accountId,
		Status:      StatusCreated,
		SubmittedAt: timezone.Now(),
	}
	span.SetAttributes(
		attribute.String("job_id", job.Id),
		attribute.String("account", accountId),
	)

	s.mu.Lock()
	s.jobs.Add(job.Id, job)
	snapshot := *job
	s.mu.Unlock()

	s.bus.Publish("account/"+accountId, "job_status", snapshot)
	go s.run(job)
	return snapshot, nil
}

// Job returns a snapshot of a submitted job.
func (s *Service) Job(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs.Get(id)
	if !ok {
		return Job{}, false
	}
	return *job, true
}

func (s *Service) run(job *Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.options.JobTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "service:run")
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", job.Id),
		attribute.String("account", job.AccountId),
	)

	lock := s.locks.Get(job.AccountId)
	lock.Lock()
	defer lock.Unlock()

	err := s.execute(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job failed")
		slog.ErrorContext(ctx, "scrape job failed", "job_id", job.Id, "account", job.AccountId, "err", err)

		s.mu.Lock()
		job.Status = StatusFailed
		job.Error = err.Error()
		job.FinishedAt = timezone.Now()
		snapshot := *job
		s.mu.Unlock()
		s.bus.Publish("account/"+job.AccountId, "job_status", snapshot)
	}
}

func (s *Service) setStatus(ctx context.Context, job *Job, status Status) {
	s.mu.Lock()
	job.Status = status
	snapshot := *job
	s.mu.Unlock()

	slog.DebugContext(ctx, "job status", "job_id", job.Id, "status", status)
	s.bus.Publish("account/"+job.AccountId, "job_status", snapshot)
}

func (s *Service) execute(ctx context.Context, job *Job) error {
	s.setStatus(ctx, job, StatusAuthenticating)

	record, found, err := s.cookies.Load(ctx, job.AccountId)
	if err != nil {
		return err
	}
	storeValid := found && record.Valid

	client, cached := s.clients.Get(job.AccountId)
	if cached && !storeValid {
		// the store marked the session dead, a cached client is no fresher
		s.clients.Remove(job.AccountId)
		cached = false
	}
	if !cached {
		var blob []byte
		if storeValid {
			blob = record.Blob
		}
		client, err = portal.NewClient(ctx, portal.ClientOptions{
			Endpoints:  s.options.Endpoints,
			CookieBlob: blob,
		})
		if err != nil {
			return err
		}
	}

	sessionValid := false
	if cached || storeValid {
		state, err := client.ValidateSession(ctx)
		if err != nil {
			// SessionUnknown: the portal could not be reached, a login
			// attempt will not fare better
			return err
		}
		sessionValid = state == portal.SessionValid
		if state == portal.SessionInvalid {
			err = s.cookies.Invalidate(ctx, job.AccountId)
			if err != nil {
				return err
			}
		}
	}

	creds, err := s.creds.Credentials(ctx, job.AccountId)
	if err != nil {
		return err
	}
	if !sessionValid {
		creds, err = s.login(ctx, job, client, creds)
		if err != nil {
			return err
		}
	}

	s.setStatus(ctx, job, StatusScraping)
	relogin := func(ctx context.Context) error {
		// the same challenge path as the initial login: credentials may
		// have rotated while the session was still alive
		refreshed, err := s.login(ctx, job, client, creds)
		if err != nil {
			return err
		}
		creds = refreshed
		s.setStatus(ctx, job, StatusScraping)
		return nil
	}
	runner := scrape.NewRunner(client, relogin, s.options.Grid)

	result, err := runner.Run(ctx)
	if err != nil {
		if errors.Is(err, portal.ErrSessionExpired) {
			s.clients.Remove(job.AccountId)
			ierr := s.cookies.Invalidate(ctx, job.AccountId)
			if ierr != nil {
				slog.WarnContext(ctx, "failed to invalidate cookies", "account", job.AccountId, "err", ierr)
			}
		}
		return err
	}

	// the client survives for the next job on this account
	s.clients.Add(job.AccountId, client)

	// persist whatever cookies the portal rotated during the scrape
	blob, err := client.ExportCookies()
	if err == nil {
		err = s.cookies.Save(ctx, job.AccountId, blob, client.BaseUrl.Host, time.Time{})
	}
	if err != nil {
		slog.WarnContext(ctx, "failed to persist cookies after scrape", "account", job.AccountId, "err", err)
	}

	s.mu.Lock()
	job.Status = StatusCompleted
	job.Rows = result.Rows
	job.Diagnostic = result.Diagnostic
	job.FinishedAt = timezone.Now()
	snapshot := *job
	s.mu.Unlock()
	s.bus.Publish("account/"+job.AccountId, "job_status", snapshot)
	return nil
}

// login authenticates against the portal, pulling an operator into the
// loop at most once per challenge kind: once when the stored credentials
// are rejected, once when the portal demands a verification code. It
// returns the credentials that actually worked so a mid-scrape re-login
// uses them too.
func (s *Service) login(ctx context.Context, job *Job, client *portal.Client, creds portal.Credentials) (portal.Credentials, error) {
	result, err := client.Login(ctx, creds)

	var invalid *portal.InvalidCredentialsError
	if errors.As(err, &invalid) {
		payload, askErr := s.askOperator(ctx, job, challenges.KindCredentials, invalid.Message)
		if askErr != nil {
			return creds, askErr
		}
		creds = portal.Credentials{Username: payload.Username, Password: payload.Password}
		result, err = client.Login(ctx, creds)
	}

	var otp *portal.OneTimeCodeRequiredError
	if errors.As(err, &otp) {
		payload, askErr := s.askOperator(ctx, job, challenges.KindOneTimeCode, otp.Prompt)
		if askErr != nil {
			return creds, askErr
		}
		result, err = client.SubmitOneTimeCode(ctx, payload.Code)
	}

	if err != nil {
		return creds, err
	}
	return creds, s.saveCookies(ctx, job, client, result)
}

// askOperator raises a challenge, parks the job on it and blocks until an
// operator answers or the challenge expires.
func (s *Service) askOperator(ctx context.Context, job *Job, kind challenges.Kind, prompt string) (challenges.Payload, error) {
	challenge, err := s.broker.Raise(ctx, job.AccountId, kind, prompt)
	if err != nil {
		return challenges.Payload{}, err
	}

	s.mu.Lock()
	job.ChallengeId = challenge.Id
	s.mu.Unlock()
	s.setStatus(ctx, job, StatusAwaitingChallenge)

	payload, err := s.broker.Await(ctx, challenge.Id)
	if err != nil {
		return challenges.Payload{}, err
	}

	s.mu.Lock()
	job.ChallengeId = ""
	s.mu.Unlock()
	s.setStatus(ctx, job, StatusAuthenticating)
	return payload, nil
}

func (s *Service) saveCookies(ctx context.Context, job *Job, client *portal.Client, result portal.LoginResult) error {
	s.mu.Lock()
	job.RelayToken = result.Token
	s.mu.Unlock()

	return s.cookies.Save(ctx, job.AccountId, result.CookieBlob, client.BaseUrl.Host, time.Time{})
}
