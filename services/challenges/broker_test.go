package challenges_test

import (
	"context"
	"testing"
	"time"

	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/events"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/telemetry"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/services/challenges"

	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, options challenges.Options) (*events.Bus, *challenges.Broker) {
	cleanup := telemetry.SetupForTesting(t, "test:services/challenges")
	t.Cleanup(cleanup)

	bus := events.NewBus()
	return bus, challenges.NewBroker(bus, options)
}

func TestResolveUnblocksWaiter(t *testing.T) {
	bus, broker := setup(t, challenges.Options{})
	sub := bus.Subscribe("account/kurs-1234")
	defer sub.Close()

	challenge, err := broker.Raise(
		context.Background(), "kurs-1234",
		challenges.KindCredentials, "Kullanıcı adı veya şifre hatalı!",
	)
	require.NoError(t, err)
	require.Equal(t, challenges.StateAwaiting, challenge.State)

	raised := <-sub.C
	require.Equal(t, "challenge_raised", raised.Kind)

	go func() {
		err := broker.Resolve(context.Background(), challenge.Id, challenges.Payload{
			Username: "kurs_user",
			Password: "yeni_sifre",
		})
		require.NoError(t, err)
	}()

	payload, err := broker.Await(context.Background(), challenge.Id)
	require.NoError(t, err)
	require.Equal(t, "kurs_user", payload.Username)
	require.Equal(t, "yeni_sifre", payload.Password)

	resolved := <-sub.C
	require.Equal(t, "challenge_resolved", resolved.Kind)

	// settled challenges are gone
	_, found := broker.Get(challenge.Id)
	require.False(t, found)
}

func TestExpiryFailsWaiter(t *testing.T) {
	bus, broker := setup(t, challenges.Options{Timeout: time.Millisecond * 50})
	sub := bus.Subscribe("account/kurs-1234")
	defer sub.Close()

	challenge, err := broker.Raise(
		context.Background(), "kurs-1234",
		challenges.KindOneTimeCode, "portal istek kodu bekliyor",
	)
	require.NoError(t, err)

	_, err = broker.Await(context.Background(), challenge.Id)
	require.ErrorIs(t, err, challenges.ErrChallengeTimeout)

	<-sub.C // challenge_raised
	expired := <-sub.C
	require.Equal(t, "challenge_expired", expired.Kind)

	// late operator answers hit a conflict, not a crash
	err = broker.Resolve(context.Background(), challenge.Id, challenges.Payload{Code: "123456"})
	require.ErrorIs(t, err, challenges.ErrConflict)
}

func TestDoubleResolveConflicts(t *testing.T) {
	_, broker := setup(t, challenges.Options{})

	challenge, err := broker.Raise(
		context.Background(), "kurs-1234",
		challenges.KindOneTimeCode, "",
	)
	require.NoError(t, err)

	err = broker.Resolve(context.Background(), challenge.Id, challenges.Payload{Code: "111111"})
	require.NoError(t, err)
	err = broker.Resolve(context.Background(), challenge.Id, challenges.Payload{Code: "222222"})
	require.ErrorIs(t, err, challenges.ErrConflict)

	// the waiter sees the first answer
	payload, err := broker.Await(context.Background(), challenge.Id)
	require.NoError(t, err)
	require.Equal(t, "111111", payload.Code)
}

func TestAwaitHonorsContext(t *testing.T) {
	_, broker := setup(t, challenges.Options{})

	challenge, err := broker.Raise(
		context.Background(), "kurs-1234",
		challenges.KindCredentials, "",
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
	defer cancel()
	_, err = broker.Await(ctx, challenge.Id)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
