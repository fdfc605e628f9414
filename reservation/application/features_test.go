package application_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"reservation-gateway/reservation/application"
	"reservation-gateway/reservation/domain"
	"reservation-gateway/reservation/infra"

	"github.com/cucumber/godog"
)

// TestReservationFeatures executa os cenários de features/reservation.feature via godog.
func TestReservationFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "reservation",
		ScenarioInitializer: initializeScenario,
		Options: &godog.Options{
			Format:    "pretty",
			Paths:     []string{"features"},
			Strict:    true,
			TestingT:  t,
			Randomize: 0,
		},
	}
	if suite.Run() != 0 {
		t.Fatalf("non-zero godog status")
	}
}

func initializeScenario(ctx *godog.ScenarioContext) {
	state := &scenarioState{}
	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		state.reset()
		return ctx, nil
	})

	ctx.Step(`^an event "([^"]+)" with capacity (\d+)$`, state.givenEvent)
	ctx.Step(`^users "([^"]+)" reserve "([^"]+)" one after another$`, state.usersReserveSequentially)
	ctx.Step(`^(\d+) users reserve "([^"]+)" at the same time$`, state.usersReserveConcurrently)
	ctx.Step(`^user "([^"]+)" reserves "([^"]+)"$`, state.userReserves)
	ctx.Step(`^user "([^"]+)" cancels their last reservation$`, state.userCancelsLast)
	ctx.Step(`^reservation "([^"]+)" is cancelled$`, state.reservationCancelled)
	ctx.Step(`^(\d+) reservations succeed$`, state.reservationsSucceed)
	ctx.Step(`^(\d+) reservations fail with "([^"]+)"$`, state.reservationsFailWith)
	ctx.Step(`^the last outcome is "([^"]+)"$`, state.lastOutcomeIs)
	ctx.Step(`^event "([^"]+)" has (\d+) filled seats$`, state.eventHasFilled)
	ctx.Step(`^the new reservation id differs from the cancelled one$`, state.newIDDiffers)
}

type scenarioState struct {
	store *infra.MemoryStore
	svc   application.Service

	mu        sync.Mutex
	outcomes  []domain.ReserveOutcome
	last      string
	lastByUsr map[domain.UserID]domain.ReservationID
	cancelled []domain.ReservationID
}

func (s *scenarioState) reset() {
	s.store = infra.NewMemoryStore()
	s.svc = application.Service{Store: s.store}
	s.outcomes = nil
	s.last = ""
	s.lastByUsr = map[domain.UserID]domain.ReservationID{}
	s.cancelled = nil
}

func outcomeName(ok bool, reason domain.Reason) string {
	if ok {
		return "OK"
	}
	return string(reason)
}

func (s *scenarioState) givenEvent(id string, capacity int) error {
	_, err := s.store.EnsureResource(context.Background(), domain.ResourceID(id), capacity)
	return err
}

func (s *scenarioState) reserve(user, event string) error {
	out, err := s.svc.Reserve(context.Background(), domain.UserID(user), domain.ResourceID(event))
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, out)
	s.last = outcomeName(out.OK, out.Reason)
	if out.OK {
		s.lastByUsr[domain.UserID(user)] = out.ReservationID
	}
	return nil
}

func (s *scenarioState) userReserves(user, event string) error {
	return s.reserve(user, event)
}

func (s *scenarioState) usersReserveSequentially(users, event string) error {
	for _, u := range strings.Split(users, ",") {
		if err := s.reserve(strings.TrimSpace(u), event); err != nil {
			return err
		}
	}
	return nil
}

func (s *scenarioState) usersReserveConcurrently(n int, event string) error {
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.reserve(fmt.Sprintf("user-%d", i), event); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	return <-errs
}

func (s *scenarioState) cancel(id domain.ReservationID) error {
	out, err := s.svc.Cancel(context.Background(), id)
	if err != nil {
		return err
	}
	s.last = outcomeName(out.OK, out.Reason)
	if out.OK {
		s.cancelled = append(s.cancelled, id)
	}
	return nil
}

func (s *scenarioState) userCancelsLast(user string) error {
	id, ok := s.lastByUsr[domain.UserID(user)]
	if !ok {
		return fmt.Errorf("user %s has no reservation", user)
	}
	return s.cancel(id)
}

func (s *scenarioState) reservationCancelled(id string) error {
	return s.cancel(domain.ReservationID(id))
}

func (s *scenarioState) reservationsSucceed(n int) error {
	got := 0
	for _, out := range s.outcomes {
		if out.OK {
			got++
		}
	}
	if got != n {
		return fmt.Errorf("expected %d successful reservations, got %d", n, got)
	}
	return nil
}

func (s *scenarioState) reservationsFailWith(n int, reason string) error {
	got := 0
	for _, out := range s.outcomes {
		if !out.OK && string(out.Reason) == reason {
			got++
		}
	}
	if got != n {
		return fmt.Errorf("expected %d reservations failing with %s, got %d", n, reason, got)
	}
	return nil
}

func (s *scenarioState) lastOutcomeIs(want string) error {
	if s.last != want {
		return fmt.Errorf("expected last outcome %s, got %s", want, s.last)
	}
	return nil
}

func (s *scenarioState) eventHasFilled(event string, filled int) error {
	res, err := s.store.Resource(context.Background(), domain.ResourceID(event))
	if err != nil {
		return err
	}
	if res.Filled != filled {
		return fmt.Errorf("expected %d filled seats on %s, got %d", filled, event, res.Filled)
	}
	return nil
}

func (s *scenarioState) newIDDiffers() error {
	if len(s.cancelled) == 0 {
		return fmt.Errorf("no cancelled reservation in this scenario")
	}
	old := s.cancelled[len(s.cancelled)-1]
	for _, id := range s.lastByUsr {
		if id == old {
			return fmt.Errorf("expected a new reservation id, got %s again", id)
		}
	}
	return nil
}
