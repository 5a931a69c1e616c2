package app_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"mathblitz-service/internal/app"
	"mathblitz-service/internal/domain"
	"mathblitz-service/internal/equation"
	"mathblitz-service/internal/infra/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store  *memory.GameStore
	events *memory.EventLog
	svc    *app.GameService
	clock  *fakeClock
}

func newFixture() *fixture {
	clock := newFakeClock()
	store := memory.NewGameStoreWithClock(clock.Now)
	events := memory.NewEventLogWithClock(clock.Now)
	gen := equation.NewGeneratorWithRand(equation.LocalEvaluator{}, rand.New(rand.NewSource(42)))
	svc := app.NewGameServiceWithClock(store, events, gen, nil, clock.Now)
	return &fixture{store: store, events: events, svc: svc, clock: clock}
}

// correctAnswer peeks the stored round so tests can submit right or wrong
// answers against randomly generated equations.
func (f *fixture) correctAnswer(t *testing.T, ctx context.Context, gameCode string, roundNumber int) float64 {
	t.Helper()
	game, err := f.svc.Game(ctx, gameCode)
	if err != nil {
		t.Fatalf("find game: %v", err)
	}
	round, err := f.store.FindRound(ctx, game.ID, roundNumber)
	if err != nil {
		t.Fatalf("find round %d: %v", roundNumber, err)
	}
	return round.CorrectAnswer
}

func (f *fixture) eventTypes(t *testing.T, ctx context.Context, gameCode string) []domain.EventType {
	t.Helper()
	events, err := f.svc.Events(ctx, gameCode, time.Time{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	types := make([]domain.EventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

func countType(types []domain.EventType, want domain.EventType) int {
	n := 0
	for _, tp := range types {
		if tp == want {
			n++
		}
	}
	return n
}

func TestCreateAndJoinGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	creds, err := f.svc.CreateGame(ctx, "Alice")
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	if len(creds.GameCode) != 6 {
		t.Fatalf("expected 6-char game code, got %q", creds.GameCode)
	}
	if !creds.IsHost || creds.PlayerID == "" || creds.SessionToken == "" {
		t.Fatalf("unexpected host credentials: %+v", creds)
	}

	joined, err := f.svc.JoinGame(ctx, creds.GameCode, "Bob")
	if err != nil {
		t.Fatalf("join game: %v", err)
	}
	if joined.IsHost {
		t.Fatalf("second player must not be host")
	}
	if joined.SessionToken == creds.SessionToken {
		t.Fatalf("session tokens must be unique")
	}

	state, err := f.svc.GetGameState(ctx, creds.GameCode, creds.PlayerID)
	if err != nil {
		t.Fatalf("game state: %v", err)
	}
	if state.Status != domain.GameWaiting || len(state.Players) != 2 {
		t.Fatalf("expected waiting game with 2 players, got %+v", state)
	}

	types := f.eventTypes(t, ctx, creds.GameCode)
	if countType(types, domain.EventPlayerJoined) != 2 {
		t.Fatalf("expected 2 PLAYER_JOINED events, got %v", types)
	}
}

func TestJoinUnknownGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.svc.JoinGame(ctx, "NOPE42", "Bob")
	if !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}
}

func TestJoinAfterStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	creds, _ := f.svc.CreateGame(ctx, "Alice")
	if err := f.svc.StartGame(ctx, creds.GameCode); err != nil {
		t.Fatalf("start game: %v", err)
	}

	if _, err := f.svc.JoinGame(ctx, creds.GameCode, "Late"); !errors.Is(err, domain.ErrGameAlreadyStarted) {
		t.Fatalf("expected ErrGameAlreadyStarted, got %v", err)
	}
}

func TestStartGameActivatesFirstRound(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	creds, _ := f.svc.CreateGame(ctx, "Alice")
	if err := f.svc.StartGame(ctx, creds.GameCode); err != nil {
		t.Fatalf("start game: %v", err)
	}

	game, err := f.svc.Game(ctx, creds.GameCode)
	if err != nil {
		t.Fatalf("find game: %v", err)
	}
	if game.Status != domain.GameInProgress || game.CurrentRoundNumber != 1 {
		t.Fatalf("expected in-progress game on round 1, got %+v", game)
	}

	for i := 1; i <= app.RoundsPerGame; i++ {
		round, err := f.store.FindRound(ctx, game.ID, i)
		if err != nil {
			t.Fatalf("round %d missing: %v", i, err)
		}
		want := domain.RoundPending
		if i == 1 {
			want = domain.RoundActive
		}
		if round.Status != want {
			t.Fatalf("round %d status = %s, want %s", i, round.Status, want)
		}
		if round.EquationText == "" {
			t.Fatalf("round %d has empty equation", i)
		}
	}

	if err := f.svc.StartGame(ctx, creds.GameCode); !errors.Is(err, domain.ErrGameAlreadyStarted) {
		t.Fatalf("second start should conflict, got %v", err)
	}

	types := f.eventTypes(t, ctx, creds.GameCode)
	if countType(types, domain.EventGameStarted) != 1 || countType(types, domain.EventRoundStarted) != 1 {
		t.Fatalf("expected one GAME_STARTED and one ROUND_STARTED, got %v", types)
	}
}

func TestSubmitBeforeStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	creds, _ := f.svc.CreateGame(ctx, "Alice")
	_, err := f.svc.SubmitAnswer(ctx, creds.GameCode, 1, creds.PlayerID, 4, nil)
	if !errors.Is(err, domain.ErrGameNotInProgress) {
		t.Fatalf("expected ErrGameNotInProgress, got %v", err)
	}
}

func TestSubmitToPendingRound(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	creds, _ := f.svc.CreateGame(ctx, "Alice")
	f.svc.JoinGame(ctx, creds.GameCode, "Bob")
	if err := f.svc.StartGame(ctx, creds.GameCode); err != nil {
		t.Fatalf("start game: %v", err)
	}

	answer := f.correctAnswer(t, ctx, creds.GameCode, 2)
	_, err := f.svc.SubmitAnswer(ctx, creds.GameCode, 2, creds.PlayerID, answer, nil)
	if !errors.Is(err, domain.ErrRoundClosed) {
		t.Fatalf("expected ErrRoundClosed for pending round, got %v", err)
	}
}

func TestFirstCorrectStartsCountdown(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	host, _ := f.svc.CreateGame(ctx, "Alice")
	guest, _ := f.svc.JoinGame(ctx, host.GameCode, "Bob")
	if err := f.svc.StartGame(ctx, host.GameCode); err != nil {
		t.Fatalf("start game: %v", err)
	}

	answer := f.correctAnswer(t, ctx, host.GameCode, 1)
	ms := 400
	result, err := f.svc.SubmitAnswer(ctx, host.GameCode, 1, host.PlayerID, answer, &ms)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.IsCorrect || result.Score != 173 {
		t.Fatalf("expected first correct score 173, got %+v", result)
	}
	if result.NextRoundNumber == nil || *result.NextRoundNumber != 1 {
		t.Fatalf("expected next round pointer at current round, got %+v", result.NextRoundNumber)
	}

	game, _ := f.svc.Game(ctx, host.GameCode)
	round, _ := f.store.FindRound(ctx, game.ID, 1)
	if round.Status != domain.RoundCountdown || round.FirstCorrectAt == nil || round.CountdownEndsAt == nil {
		t.Fatalf("expected countdown round, got %+v", round)
	}
	if got := round.CountdownEndsAt.Sub(*round.FirstCorrectAt); got != 5*time.Second {
		t.Fatalf("countdown window = %v, want 5s", got)
	}

	types := f.eventTypes(t, ctx, host.GameCode)
	if countType(types, domain.EventFirstCorrect) != 1 || countType(types, domain.EventCountdownStarted) != 1 {
		t.Fatalf("expected FIRST_CORRECT and COUNTDOWN_STARTED once, got %v", types)
	}

	// A later correct answer during the countdown earns no first bonus.
	f.clock.Advance(time.Second)
	ms2 := 1400
	second, err := f.svc.SubmitAnswer(ctx, host.GameCode, 1, guest.PlayerID, answer, &ms2)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.Score != 143 {
		t.Fatalf("expected non-first score 143, got %d", second.Score)
	}

	// Everyone answered, so the round ended without waiting out the countdown.
	game, _ = f.svc.Game(ctx, host.GameCode)
	if game.CurrentRoundNumber != 2 {
		t.Fatalf("expected round 2 active after all submitted, got %d", game.CurrentRoundNumber)
	}
	round, _ = f.store.FindRound(ctx, game.ID, 1)
	if round.Status != domain.RoundEnded || round.EndedAt == nil {
		t.Fatalf("expected round 1 ended, got %+v", round)
	}
}

func TestDuplicateSubmission(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	host, _ := f.svc.CreateGame(ctx, "Alice")
	f.svc.JoinGame(ctx, host.GameCode, "Bob")
	if err := f.svc.StartGame(ctx, host.GameCode); err != nil {
		t.Fatalf("start game: %v", err)
	}

	answer := f.correctAnswer(t, ctx, host.GameCode, 1)
	if _, err := f.svc.SubmitAnswer(ctx, host.GameCode, 1, host.PlayerID, answer, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err := f.svc.SubmitAnswer(ctx, host.GameCode, 1, host.PlayerID, answer, nil)
	if !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
}

func TestAnswerTolerance(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	host, _ := f.svc.CreateGame(ctx, "Alice")
	f.svc.JoinGame(ctx, host.GameCode, "Bob")
	if err := f.svc.StartGame(ctx, host.GameCode); err != nil {
		t.Fatalf("start game: %v", err)
	}

	answer := f.correctAnswer(t, ctx, host.GameCode, 1)
	result, err := f.svc.SubmitAnswer(ctx, host.GameCode, 1, host.PlayerID, answer+0.009, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.IsCorrect {
		t.Fatalf("answer within 0.01 should be correct")
	}
}

func TestAllWrongEndsRound(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	host, _ := f.svc.CreateGame(ctx, "Alice")
	guest, _ := f.svc.JoinGame(ctx, host.GameCode, "Bob")
	if err := f.svc.StartGame(ctx, host.GameCode); err != nil {
		t.Fatalf("start game: %v", err)
	}

	answer := f.correctAnswer(t, ctx, host.GameCode, 1)
	wrong := answer + 100
	if _, err := f.svc.SubmitAnswer(ctx, host.GameCode, 1, host.PlayerID, wrong, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	result, err := f.svc.SubmitAnswer(ctx, host.GameCode, 1, guest.PlayerID, wrong, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.IsCorrect || result.Score != 0 {
		t.Fatalf("wrong answer should score 0, got %+v", result)
	}

	game, _ := f.svc.Game(ctx, host.GameCode)
	if game.CurrentRoundNumber != 2 {
		t.Fatalf("round should end once everyone answered wrong, current=%d", game.CurrentRoundNumber)
	}

	types := f.eventTypes(t, ctx, host.GameCode)
	if countType(types, domain.EventFirstCorrect) != 0 {
		t.Fatalf("no FIRST_CORRECT expected, got %v", types)
	}
}

func TestConcurrentFirstCorrectClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	host, _ := f.svc.CreateGame(ctx, "P0")
	players := []string{host.PlayerID}
	for i := 1; i < 4; i++ {
		creds, err := f.svc.JoinGame(ctx, host.GameCode, "P"+string(rune('0'+i)))
		if err != nil {
			t.Fatalf("join: %v", err)
		}
		players = append(players, creds.PlayerID)
	}
	if err := f.svc.StartGame(ctx, host.GameCode); err != nil {
		t.Fatalf("start game: %v", err)
	}

	answer := f.correctAnswer(t, ctx, host.GameCode, 1)

	var wg sync.WaitGroup
	results := make([]domain.SubmitResult, len(players))
	for i, playerID := range players {
		wg.Add(1)
		go func(i int, playerID string) {
			defer wg.Done()
			res, err := f.svc.SubmitAnswer(ctx, host.GameCode, 1, playerID, answer, nil)
			if err != nil {
				t.Errorf("submit %d: %v", i, err)
				return
			}
			results[i] = res
		}(i, playerID)
	}
	wg.Wait()

	firstBonus := 0
	for _, res := range results {
		switch res.Score {
		case 125:
			firstBonus++
		case 100:
		default:
			t.Fatalf("unexpected score %d", res.Score)
		}
	}
	if firstBonus != 1 {
		t.Fatalf("exactly one player should win the first-correct claim, got %d", firstBonus)
	}

	types := f.eventTypes(t, ctx, host.GameCode)
	if countType(types, domain.EventFirstCorrect) != 1 {
		t.Fatalf("expected exactly one FIRST_CORRECT event, got %v", types)
	}
}

func TestCountdownExpiryAdvancesRound(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	host, _ := f.svc.CreateGame(ctx, "Alice")
	f.svc.JoinGame(ctx, host.GameCode, "Bob")
	if err := f.svc.StartGame(ctx, host.GameCode); err != nil {
		t.Fatalf("start game: %v", err)
	}

	answer := f.correctAnswer(t, ctx, host.GameCode, 1)
	if _, err := f.svc.SubmitAnswer(ctx, host.GameCode, 1, host.PlayerID, answer, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Before the countdown runs out nothing moves.
	f.clock.Advance(4 * time.Second)
	if err := f.svc.AdvanceRoundIfNeeded(ctx, host.GameCode); err != nil {
		t.Fatalf("advance: %v", err)
	}
	game, _ := f.svc.Game(ctx, host.GameCode)
	if game.CurrentRoundNumber != 1 {
		t.Fatalf("countdown still running, round should stay 1, got %d", game.CurrentRoundNumber)
	}

	f.clock.Advance(2 * time.Second)
	if err := f.svc.AdvanceRoundIfNeeded(ctx, host.GameCode); err != nil {
		t.Fatalf("advance: %v", err)
	}
	game, _ = f.svc.Game(ctx, host.GameCode)
	if game.CurrentRoundNumber != 2 {
		t.Fatalf("expected advance to round 2, got %d", game.CurrentRoundNumber)
	}
	round, _ := f.store.FindRound(ctx, game.ID, 2)
	if round.Status != domain.RoundActive {
		t.Fatalf("round 2 should be active, got %s", round.Status)
	}

	// Advance is idempotent.
	if err := f.svc.AdvanceRoundIfNeeded(ctx, host.GameCode); err != nil {
		t.Fatalf("repeat advance: %v", err)
	}
	game, _ = f.svc.Game(ctx, host.GameCode)
	if game.CurrentRoundNumber != 2 {
		t.Fatalf("repeat advance must not skip rounds, got %d", game.CurrentRoundNumber)
	}
}

func TestSubmitAfterCountdownExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	host, _ := f.svc.CreateGame(ctx, "Alice")
	guest, _ := f.svc.JoinGame(ctx, host.GameCode, "Bob")
	if err := f.svc.StartGame(ctx, host.GameCode); err != nil {
		t.Fatalf("start game: %v", err)
	}

	answer := f.correctAnswer(t, ctx, host.GameCode, 1)
	if _, err := f.svc.SubmitAnswer(ctx, host.GameCode, 1, host.PlayerID, answer, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	f.clock.Advance(6 * time.Second)
	_, err := f.svc.SubmitAnswer(ctx, host.GameCode, 1, guest.PlayerID, answer, nil)
	if !errors.Is(err, domain.ErrCountdownExpired) {
		t.Fatalf("expected ErrCountdownExpired, got %v", err)
	}

	// The rejected submission still nudged the round forward.
	game, _ := f.svc.Game(ctx, host.GameCode)
	if game.CurrentRoundNumber != 2 {
		t.Fatalf("expected round advance as a side effect, got %d", game.CurrentRoundNumber)
	}
}

func TestGameStatePollHealsExpiredCountdown(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	host, _ := f.svc.CreateGame(ctx, "Alice")
	f.svc.JoinGame(ctx, host.GameCode, "Bob")
	if err := f.svc.StartGame(ctx, host.GameCode); err != nil {
		t.Fatalf("start game: %v", err)
	}

	answer := f.correctAnswer(t, ctx, host.GameCode, 1)
	if _, err := f.svc.SubmitAnswer(ctx, host.GameCode, 1, host.PlayerID, answer, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.clock.Advance(6 * time.Second)

	state, err := f.svc.GetGameState(ctx, host.GameCode, host.PlayerID)
	if err != nil {
		t.Fatalf("game state: %v", err)
	}
	if state.CurrentRoundNumber != 2 || state.CompletedRounds != 1 {
		t.Fatalf("state poll should advance the round, got %+v", state)
	}
	if state.CurrentRound == nil || state.CurrentRound.RoundNumber != 2 || state.CurrentRound.HasSubmitted {
		t.Fatalf("unexpected current round view: %+v", state.CurrentRound)
	}
}

func TestFullGameToReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	alice, _ := f.svc.CreateGame(ctx, "Alice")
	bob, _ := f.svc.JoinGame(ctx, alice.GameCode, "Bob")
	if err := f.svc.StartGame(ctx, alice.GameCode); err != nil {
		t.Fatalf("start game: %v", err)
	}

	for round := 1; round <= app.RoundsPerGame; round++ {
		answer := f.correctAnswer(t, ctx, alice.GameCode, round)
		ms := 1000
		res, err := f.svc.SubmitAnswer(ctx, alice.GameCode, round, alice.PlayerID, answer, &ms)
		if err != nil {
			t.Fatalf("round %d alice submit: %v", round, err)
		}
		if res.Score != 170 {
			t.Fatalf("round %d alice score = %d, want 170", round, res.Score)
		}
		if _, err := f.svc.SubmitAnswer(ctx, alice.GameCode, round, bob.PlayerID, answer+50, nil); err != nil {
			t.Fatalf("round %d bob submit: %v", round, err)
		}
	}

	game, _ := f.svc.Game(ctx, alice.GameCode)
	if game.Status != domain.GameFinished {
		t.Fatalf("expected finished game, got %s", game.Status)
	}

	state, err := f.svc.GetGameState(ctx, alice.GameCode, alice.PlayerID)
	if err != nil {
		t.Fatalf("game state: %v", err)
	}
	if state.Status != domain.GameFinished || state.CurrentRound != nil || state.CompletedRounds != app.RoundsPerGame {
		t.Fatalf("unexpected finished state: %+v", state)
	}

	lb, err := f.svc.GetLeaderboard(ctx, alice.GameCode)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb) != 2 {
		t.Fatalf("expected 2 leaderboard entries, got %d", len(lb))
	}
	if lb[0].DisplayName != "Alice" || lb[0].TotalScore != 1700 || lb[0].CorrectCount != 10 || lb[0].AverageTimeMs != 1000 {
		t.Fatalf("unexpected leader: %+v", lb[0])
	}
	if lb[1].DisplayName != "Bob" || lb[1].TotalScore != 0 {
		t.Fatalf("unexpected runner-up: %+v", lb[1])
	}

	report, err := f.svc.GetGameReport(ctx, alice.GameCode, alice.PlayerID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.TotalScore != 1700 || report.CorrectCount != 10 || report.IncorrectCount != 0 {
		t.Fatalf("unexpected report totals: %+v", report)
	}
	if len(report.Rounds) != app.RoundsPerGame || report.Rounds[0].RoundNumber != 1 || report.Rounds[9].RoundNumber != 10 {
		t.Fatalf("report rounds out of order: %+v", report.Rounds)
	}

	types := f.eventTypes(t, ctx, alice.GameCode)
	if countType(types, domain.EventRoundEnded) != app.RoundsPerGame {
		t.Fatalf("expected %d ROUND_ENDED events, got %v", app.RoundsPerGame, types)
	}
	if countType(types, domain.EventGameEnded) != 1 {
		t.Fatalf("expected one GAME_ENDED event, got %v", types)
	}
	if countType(types, domain.EventRoundStarted) != app.RoundsPerGame {
		t.Fatalf("expected %d ROUND_STARTED events, got %v", app.RoundsPerGame, types)
	}
}

func TestEventsSince(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	host, _ := f.svc.CreateGame(ctx, "Alice")
	cutoff := f.clock.Now()
	f.clock.Advance(time.Second)
	if _, err := f.svc.JoinGame(ctx, host.GameCode, "Bob"); err != nil {
		t.Fatalf("join: %v", err)
	}

	events, err := f.svc.Events(ctx, host.GameCode, cutoff)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].Type != domain.EventPlayerJoined {
		t.Fatalf("expected only the post-cutoff join event, got %+v", events)
	}
}
