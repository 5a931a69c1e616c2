package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"mathblitz-service/internal/domain"
	"mathblitz-service/internal/equation"
)

const (
	// RoundsPerGame is fixed; every game plays exactly ten rounds.
	RoundsPerGame = 10

	answerTolerance   = 0.01
	countdownDuration = 5 * time.Second
)

// GameService is the round lifecycle coordinator. Every externally
// triggered action enters here; it reads persisted state, applies the
// state-machine rules, writes back changes, and emits lifecycle events.
// It holds no locks: the only true atomicity requirement is the
// first-correct claim, which the store provides as a conditional write.
// Everything else converges through idempotent, repeated advance checks.
type GameService struct {
	store   GameStore
	events  EventSink
	gen     *equation.Generator
	metrics Recorder
	now     func() time.Time

	// collapses concurrent advance polls for the same game
	advance singleflight.Group
}

func NewGameService(store GameStore, events EventSink, gen *equation.Generator, rec Recorder) *GameService {
	return NewGameServiceWithClock(store, events, gen, rec, time.Now)
}

// NewGameServiceWithClock is test-only for deterministic countdowns.
func NewGameServiceWithClock(store GameStore, events EventSink, gen *equation.Generator, rec Recorder, now func() time.Time) *GameService {
	if rec == nil {
		rec = NopRecorder{}
	}
	return &GameService{
		store:   store,
		events:  events,
		gen:     gen,
		metrics: rec,
		now:     now,
	}
}

func generateGameCode() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return strings.ToUpper(hex.EncodeToString(buf))[:6]
}

func generateSessionToken() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func (s *GameService) emit(ctx context.Context, gameID string, eventType domain.EventType, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	return s.events.Append(ctx, gameID, eventType, payload)
}

// CreateGame persists a new WAITING game with the creator as host and
// returns the join credentials.
func (s *GameService) CreateGame(ctx context.Context, displayName string) (domain.JoinCredentials, error) {
	gameCode := generateGameCode()
	sessionToken := generateSessionToken()

	game, err := s.store.CreateGame(ctx, gameCode)
	if err != nil {
		return domain.JoinCredentials{}, fmt.Errorf("create game: %w", err)
	}
	player, err := s.store.CreatePlayer(ctx, game.ID, displayName, sessionToken, true)
	if err != nil {
		return domain.JoinCredentials{}, fmt.Errorf("create host player: %w", err)
	}

	if err := s.emit(ctx, game.ID, domain.EventPlayerJoined, map[string]any{
		"playerId":    player.ID,
		"displayName": displayName,
	}); err != nil {
		return domain.JoinCredentials{}, err
	}
	s.metrics.GameCreated()

	return domain.JoinCredentials{
		GameCode:     gameCode,
		PlayerID:     player.ID,
		SessionToken: sessionToken,
		IsHost:       true,
	}, nil
}

// JoinGame adds a non-host player to a WAITING game.
func (s *GameService) JoinGame(ctx context.Context, gameCode, displayName string) (domain.JoinCredentials, error) {
	game, err := s.store.FindGameByCode(ctx, gameCode)
	if err != nil {
		return domain.JoinCredentials{}, err
	}
	if game.Status != domain.GameWaiting {
		return domain.JoinCredentials{}, domain.ErrGameAlreadyStarted
	}

	sessionToken := generateSessionToken()
	player, err := s.store.CreatePlayer(ctx, game.ID, displayName, sessionToken, false)
	if err != nil {
		return domain.JoinCredentials{}, fmt.Errorf("create player: %w", err)
	}

	if err := s.emit(ctx, game.ID, domain.EventPlayerJoined, map[string]any{
		"playerId":    player.ID,
		"displayName": displayName,
	}); err != nil {
		return domain.JoinCredentials{}, err
	}

	return domain.JoinCredentials{
		GameCode:     gameCode,
		PlayerID:     player.ID,
		SessionToken: sessionToken,
		IsHost:       false,
	}, nil
}

// StartGame generates all ten rounds in one batch, flips the game to
// IN_PROGRESS, and activates round 1. Starting twice fails rather than
// duplicating rounds.
func (s *GameService) StartGame(ctx context.Context, gameCode string) error {
	game, err := s.store.FindGameByCode(ctx, gameCode)
	if err != nil {
		return err
	}
	if game.Status != domain.GameWaiting {
		return domain.ErrGameAlreadyStarted
	}

	rounds := make([]domain.Round, 0, RoundsPerGame)
	for i := 1; i <= RoundsPerGame; i++ {
		eq, err := s.gen.Generate(ctx, equation.ForRound(i))
		if err != nil {
			return fmt.Errorf("generate round %d: %w", i, err)
		}
		rounds = append(rounds, domain.Round{
			GameID:        game.ID,
			RoundNumber:   i,
			EquationText:  eq.Text,
			CorrectAnswer: eq.Answer,
			Status:        domain.RoundPending,
		})
	}

	if err := s.store.CreateRounds(ctx, rounds); err != nil {
		return fmt.Errorf("create rounds: %w", err)
	}
	if err := s.store.UpdateGameStatus(ctx, gameCode, domain.GameInProgress); err != nil {
		return fmt.Errorf("update game status: %w", err)
	}
	if err := s.emit(ctx, game.ID, domain.EventGameStarted, nil); err != nil {
		return err
	}

	return s.startRound(ctx, gameCode, game.ID, 1)
}

func (s *GameService) startRound(ctx context.Context, gameCode, gameID string, roundNumber int) error {
	round, err := s.store.FindRound(ctx, gameID, roundNumber)
	if err != nil {
		if errors.Is(err, domain.ErrRoundNotFound) {
			return nil
		}
		return err
	}

	startedAt := s.now()
	if err := s.store.UpdateRoundStatus(ctx, round.ID, domain.RoundActive, RoundTimestamps{StartedAt: &startedAt}); err != nil {
		return fmt.Errorf("activate round %d: %w", roundNumber, err)
	}
	if err := s.store.UpdateGameCurrentRound(ctx, gameCode, roundNumber); err != nil {
		return fmt.Errorf("update current round: %w", err)
	}

	return s.emit(ctx, gameID, domain.EventRoundStarted, map[string]any{
		"roundNumber":  roundNumber,
		"equationText": round.EquationText,
	})
}

// SubmitAnswer records one player's answer to one round, resolving the
// first-correct race through the store's conditional claim.
func (s *GameService) SubmitAnswer(ctx context.Context, gameCode string, roundNumber int, playerID string, answer float64, timeTakenMs *int) (domain.SubmitResult, error) {
	game, err := s.store.FindGameByCode(ctx, gameCode)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if game.Status != domain.GameInProgress {
		return domain.SubmitResult{}, domain.ErrGameNotInProgress
	}

	round, err := s.store.FindRound(ctx, game.ID, roundNumber)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if round.Status != domain.RoundActive && round.Status != domain.RoundCountdown {
		return domain.SubmitResult{}, domain.ErrRoundClosed
	}
	if round.CountdownEndsAt != nil && !s.now().Before(*round.CountdownEndsAt) {
		// Reject the caller but nudge the round closed so the next poll
		// observes the transition.
		_ = s.AdvanceRoundIfNeeded(ctx, gameCode)
		return domain.SubmitResult{}, domain.ErrCountdownExpired
	}

	existing, err := s.store.FindSubmission(ctx, round.ID, playerID)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if existing != nil {
		return domain.SubmitResult{}, domain.ErrAlreadySubmitted
	}

	diff := answer - round.CorrectAnswer
	if diff < 0 {
		diff = -diff
	}
	isCorrect := diff <= answerTolerance

	isFirstCorrect := false
	if isCorrect && round.FirstCorrectAt == nil {
		firstCorrectAt := s.now()
		countdownEndsAt := firstCorrectAt.Add(countdownDuration)
		claimed, err := s.store.ClaimFirstCorrect(ctx, round.ID, firstCorrectAt, countdownEndsAt)
		if err != nil {
			return domain.SubmitResult{}, fmt.Errorf("claim first correct: %w", err)
		}
		// Losing the claim is not an error; the caller proceeds as a
		// normal correct submission.
		isFirstCorrect = claimed
		if claimed {
			if err := s.emit(ctx, game.ID, domain.EventFirstCorrect, map[string]any{
				"roundNumber": roundNumber,
				"playerId":    playerID,
			}); err != nil {
				return domain.SubmitResult{}, err
			}
			if err := s.emit(ctx, game.ID, domain.EventCountdownStarted, map[string]any{
				"roundNumber":     roundNumber,
				"countdownEndsAt": countdownEndsAt.Format(time.RFC3339Nano),
			}); err != nil {
				return domain.SubmitResult{}, err
			}
		}
	}

	score := CalculateScore(isCorrect, isFirstCorrect, timeTakenMs)

	if _, err := s.store.CreateSubmission(ctx, domain.Submission{
		RoundID:     round.ID,
		PlayerID:    playerID,
		Answer:      answer,
		IsCorrect:   isCorrect,
		Score:       score,
		TimeTakenMs: timeTakenMs,
	}); err != nil {
		return domain.SubmitResult{}, err
	}
	s.metrics.Submission(isCorrect)

	if err := s.emit(ctx, game.ID, domain.EventAnswerSubmitted, map[string]any{
		"roundNumber": roundNumber,
		"playerId":    playerID,
	}); err != nil {
		return domain.SubmitResult{}, err
	}

	// Fast path: once everyone has answered the round ends immediately,
	// countdown or not.
	playerCount, err := s.store.CountPlayers(ctx, game.ID)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	subCount, err := s.store.CountSubmissionsForRound(ctx, round.ID)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if subCount >= playerCount {
		if err := s.endRound(ctx, gameCode, game.ID, roundNumber); err != nil {
			return domain.SubmitResult{}, err
		}
	}

	completedCount, err := s.store.CountSubmissionsForPlayer(ctx, playerID, game.ID)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	var nextRoundNumber *int
	if completedCount < RoundsPerGame {
		n := game.CurrentRoundNumber
		nextRoundNumber = &n
	}

	return domain.SubmitResult{
		IsCorrect:       isCorrect,
		CorrectAnswer:   round.CorrectAnswer,
		RoundNumber:     round.RoundNumber,
		Score:           score,
		NextRoundNumber: nextRoundNumber,
	}, nil
}

// AdvanceRoundIfNeeded closes the current round when its exit condition
// holds. It is idempotent and driven by client polling; concurrent polls
// for the same game collapse into one check.
func (s *GameService) AdvanceRoundIfNeeded(ctx context.Context, gameCode string) error {
	_, err, _ := s.advance.Do(gameCode, func() (any, error) {
		return nil, s.advanceRound(ctx, gameCode)
	})
	return err
}

func (s *GameService) advanceRound(ctx context.Context, gameCode string) error {
	game, err := s.store.FindGameByCode(ctx, gameCode)
	if err != nil {
		if errors.Is(err, domain.ErrGameNotFound) {
			return nil
		}
		return err
	}
	if game.Status != domain.GameInProgress || game.CurrentRoundNumber == 0 {
		return nil
	}

	round, err := s.store.FindRound(ctx, game.ID, game.CurrentRoundNumber)
	if err != nil {
		if errors.Is(err, domain.ErrRoundNotFound) {
			return nil
		}
		return err
	}
	if round.Status == domain.RoundEnded {
		return nil
	}

	if round.Status == domain.RoundCountdown && round.CountdownEndsAt != nil {
		if !s.now().Before(*round.CountdownEndsAt) {
			return s.endRound(ctx, gameCode, game.ID, game.CurrentRoundNumber)
		}
		return nil
	}

	if round.Status != domain.RoundActive {
		return nil
	}

	playerCount, err := s.store.CountPlayers(ctx, game.ID)
	if err != nil {
		return err
	}
	subCount, err := s.store.CountSubmissionsForRound(ctx, round.ID)
	if err != nil {
		return err
	}
	if subCount < playerCount {
		return nil
	}

	correctCount, err := s.store.CountCorrectSubmissionsForRound(ctx, round.ID)
	if err != nil {
		return err
	}
	switch {
	case correctCount > 0 && round.FirstCorrectAt == nil:
		// All submitted with a correct answer but no countdown was ever
		// recorded. The claim in SubmitAnswer should make this unreachable,
		// but the counts and firstCorrectAt are read in separate calls.
		return s.endRound(ctx, gameCode, game.ID, game.CurrentRoundNumber)
	case correctCount == 0:
		return s.endRound(ctx, gameCode, game.ID, game.CurrentRoundNumber)
	default:
		if round.CountdownEndsAt != nil && !s.now().Before(*round.CountdownEndsAt) {
			return s.endRound(ctx, gameCode, game.ID, game.CurrentRoundNumber)
		}
		return nil
	}
}

// endRound is idempotent: a round already ENDED stays untouched. Ending
// round 10 finishes the game, anything earlier starts the next round.
func (s *GameService) endRound(ctx context.Context, gameCode, gameID string, roundNumber int) error {
	round, err := s.store.FindRound(ctx, gameID, roundNumber)
	if err != nil {
		if errors.Is(err, domain.ErrRoundNotFound) {
			return nil
		}
		return err
	}
	if round.Status == domain.RoundEnded {
		return nil
	}

	endedAt := s.now()
	if err := s.store.UpdateRoundStatus(ctx, round.ID, domain.RoundEnded, RoundTimestamps{EndedAt: &endedAt}); err != nil {
		return fmt.Errorf("end round %d: %w", roundNumber, err)
	}
	if err := s.emit(ctx, gameID, domain.EventRoundEnded, map[string]any{
		"roundNumber": roundNumber,
	}); err != nil {
		return err
	}
	if round.StartedAt != nil {
		s.metrics.RoundCompleted(endedAt.Sub(*round.StartedAt))
	}

	if roundNumber >= RoundsPerGame {
		if err := s.store.UpdateGameStatus(ctx, gameCode, domain.GameFinished); err != nil {
			return fmt.Errorf("finish game: %w", err)
		}
		if err := s.emit(ctx, gameID, domain.EventGameEnded, nil); err != nil {
			return err
		}
		s.metrics.GameFinished()
		return nil
	}
	return s.startRound(ctx, gameCode, gameID, roundNumber+1)
}

// Game returns the persisted game for a code. Event feeds use it to
// resolve the game id before tailing the log.
func (s *GameService) Game(ctx context.Context, gameCode string) (domain.Game, error) {
	return s.store.FindGameByCode(ctx, gameCode)
}

// GetGameState returns the polled snapshot for one player, advancing the
// current round first so a missed transition heals within one poll.
func (s *GameService) GetGameState(ctx context.Context, gameCode, playerID string) (domain.GameState, error) {
	game, players, err := s.store.FindGameWithPlayers(ctx, gameCode)
	if err != nil {
		return domain.GameState{}, err
	}

	if game.Status == domain.GameInProgress && game.CurrentRoundNumber > 0 {
		if err := s.AdvanceRoundIfNeeded(ctx, gameCode); err != nil {
			return domain.GameState{}, err
		}
		game, players, err = s.store.FindGameWithPlayers(ctx, gameCode)
		if err != nil {
			return domain.GameState{}, err
		}
	}

	return s.buildGameState(ctx, game, players, playerID)
}

func (s *GameService) buildGameState(ctx context.Context, game domain.Game, players []domain.Player, playerID string) (domain.GameState, error) {
	infos := make([]domain.PlayerInfo, 0, len(players))
	for _, p := range players {
		infos = append(infos, domain.PlayerInfo{ID: p.ID, DisplayName: p.DisplayName, IsHost: p.IsHost})
	}

	completedRounds, err := s.store.CountRoundsWithStatus(ctx, game.ID, domain.RoundEnded)
	if err != nil {
		return domain.GameState{}, err
	}

	var currentRound *domain.RoundView
	if game.Status == domain.GameInProgress && game.CurrentRoundNumber > 0 {
		round, err := s.store.FindRound(ctx, game.ID, game.CurrentRoundNumber)
		if err == nil {
			existing, err := s.store.FindSubmission(ctx, round.ID, playerID)
			if err != nil {
				return domain.GameState{}, err
			}
			currentRound = &domain.RoundView{
				RoundNumber:     round.RoundNumber,
				EquationText:    round.EquationText,
				Status:          round.Status,
				StartedAt:       round.StartedAt,
				CountdownEndsAt: round.CountdownEndsAt,
				HasSubmitted:    existing != nil,
			}
		} else if !errors.Is(err, domain.ErrRoundNotFound) {
			return domain.GameState{}, err
		}
	}

	return domain.GameState{
		GameCode:           game.GameCode,
		Status:             game.Status,
		CurrentRound:       currentRound,
		TotalRounds:        RoundsPerGame,
		CompletedRounds:    completedRounds,
		CurrentRoundNumber: game.CurrentRoundNumber,
		Players:            infos,
	}, nil
}

// GetGameReport assembles a single player's per-round results plus the
// final leaderboard for the finished-game screen.
func (s *GameService) GetGameReport(ctx context.Context, gameCode, playerID string) (domain.GameReport, error) {
	game, err := s.store.FindGameByCode(ctx, gameCode)
	if err != nil {
		return domain.GameReport{}, err
	}

	rounds, err := s.store.SubmissionsForPlayer(ctx, playerID, game.ID)
	if err != nil {
		return domain.GameReport{}, err
	}
	leaderboard, err := s.store.Leaderboard(ctx, game.ID)
	if err != nil {
		return domain.GameReport{}, err
	}

	report := domain.GameReport{
		GameCode:    gameCode,
		TotalRounds: RoundsPerGame,
		Rounds:      rounds,
		Leaderboard: leaderboard,
	}
	for _, r := range rounds {
		report.TotalScore += r.Score
		if r.IsCorrect {
			report.CorrectCount++
		} else {
			report.IncorrectCount++
		}
	}
	return report, nil
}

// GetLeaderboard returns the current standings for a game.
func (s *GameService) GetLeaderboard(ctx context.Context, gameCode string) ([]domain.LeaderboardEntry, error) {
	game, err := s.store.FindGameByCode(ctx, gameCode)
	if err != nil {
		return nil, err
	}
	return s.store.Leaderboard(ctx, game.ID)
}

// Events returns the game's event records appended after the given time.
func (s *GameService) Events(ctx context.Context, gameCode string, since time.Time) ([]domain.GameEvent, error) {
	game, err := s.store.FindGameByCode(ctx, gameCode)
	if err != nil {
		return nil, err
	}
	return s.events.ListSince(ctx, game.ID, since)
}
