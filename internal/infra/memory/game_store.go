package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mathblitz-service/internal/app"
	"mathblitz-service/internal/domain"
)

// GameStore keeps all game state in process memory behind one mutex. It
// backs unit tests and serves as the store when no Postgres is configured.
// Holding the mutex across ClaimFirstCorrect and CreateSubmission gives
// the same guarantees the SQL store gets from its conditional update and
// unique constraint.
type GameStore struct {
	mu          sync.Mutex
	games       map[string]*domain.Game // keyed by game code
	gamesByID   map[string]*domain.Game
	players     map[string][]*domain.Player          // by game id, join order
	rounds      map[string]map[int]*domain.Round     // by game id, round number
	roundsByID  map[string]*domain.Round
	submissions map[string]map[string]*domain.Submission // by round id, player id
	clock       func() time.Time
}

func NewGameStore() *GameStore {
	return NewGameStoreWithClock(time.Now)
}

// NewGameStoreWithClock is test-only for deterministic created/joined times.
func NewGameStoreWithClock(clock func() time.Time) *GameStore {
	return &GameStore{
		games:       make(map[string]*domain.Game),
		gamesByID:   make(map[string]*domain.Game),
		players:     make(map[string][]*domain.Player),
		rounds:      make(map[string]map[int]*domain.Round),
		roundsByID:  make(map[string]*domain.Round),
		submissions: make(map[string]map[string]*domain.Submission),
		clock:       clock,
	}
}

func (s *GameStore) CreateGame(_ context.Context, gameCode string) (domain.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	game := &domain.Game{
		ID:        uuid.NewString(),
		GameCode:  gameCode,
		Status:    domain.GameWaiting,
		CreatedAt: s.clock(),
	}
	s.games[gameCode] = game
	s.gamesByID[game.ID] = game
	return *game, nil
}

func (s *GameStore) FindGameByCode(_ context.Context, gameCode string) (domain.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	game, ok := s.games[gameCode]
	if !ok {
		return domain.Game{}, domain.ErrGameNotFound
	}
	return *game, nil
}

func (s *GameStore) FindGameWithPlayers(_ context.Context, gameCode string) (domain.Game, []domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	game, ok := s.games[gameCode]
	if !ok {
		return domain.Game{}, nil, domain.ErrGameNotFound
	}
	players := make([]domain.Player, 0, len(s.players[game.ID]))
	for _, p := range s.players[game.ID] {
		players = append(players, *p)
	}
	return *game, players, nil
}

func (s *GameStore) UpdateGameStatus(_ context.Context, gameCode string, status domain.GameStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	game, ok := s.games[gameCode]
	if !ok {
		return domain.ErrGameNotFound
	}
	game.Status = status
	return nil
}

func (s *GameStore) UpdateGameCurrentRound(_ context.Context, gameCode string, roundNumber int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	game, ok := s.games[gameCode]
	if !ok {
		return domain.ErrGameNotFound
	}
	game.CurrentRoundNumber = roundNumber
	return nil
}

func (s *GameStore) CreatePlayer(_ context.Context, gameID, displayName, sessionToken string, isHost bool) (domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.gamesByID[gameID]; !ok {
		return domain.Player{}, domain.ErrGameNotFound
	}
	player := &domain.Player{
		ID:           uuid.NewString(),
		GameID:       gameID,
		DisplayName:  displayName,
		SessionToken: sessionToken,
		IsHost:       isHost,
		JoinedAt:     s.clock(),
	}
	s.players[gameID] = append(s.players[gameID], player)
	return *player, nil
}

func (s *GameStore) CountPlayers(_ context.Context, gameID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players[gameID]), nil
}

func (s *GameStore) CreateRounds(_ context.Context, rounds []domain.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rounds {
		round := r
		round.ID = uuid.NewString()
		if s.rounds[round.GameID] == nil {
			s.rounds[round.GameID] = make(map[int]*domain.Round)
		}
		s.rounds[round.GameID][round.RoundNumber] = &round
		s.roundsByID[round.ID] = &round
	}
	return nil
}

func (s *GameStore) FindRound(_ context.Context, gameID string, roundNumber int) (domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, ok := s.rounds[gameID][roundNumber]
	if !ok {
		return domain.Round{}, domain.ErrRoundNotFound
	}
	return *round, nil
}

func (s *GameStore) UpdateRoundStatus(_ context.Context, roundID string, status domain.RoundStatus, ts app.RoundTimestamps) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, ok := s.roundsByID[roundID]
	if !ok {
		return domain.ErrRoundNotFound
	}
	round.Status = status
	if ts.StartedAt != nil {
		round.StartedAt = ts.StartedAt
	}
	if ts.EndedAt != nil {
		round.EndedAt = ts.EndedAt
	}
	return nil
}

func (s *GameStore) ClaimFirstCorrect(_ context.Context, roundID string, firstCorrectAt, countdownEndsAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, ok := s.roundsByID[roundID]
	if !ok {
		return false, domain.ErrRoundNotFound
	}
	if round.FirstCorrectAt != nil {
		return false, nil
	}
	first := firstCorrectAt
	ends := countdownEndsAt
	round.FirstCorrectAt = &first
	round.CountdownEndsAt = &ends
	round.Status = domain.RoundCountdown
	return true, nil
}

func (s *GameStore) CountRoundsWithStatus(_ context.Context, gameID string, status domain.RoundStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, round := range s.rounds[gameID] {
		if round.Status == status {
			count++
		}
	}
	return count, nil
}

func (s *GameStore) CreateSubmission(_ context.Context, sub domain.Submission) (domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roundsByID[sub.RoundID]; !ok {
		return domain.Submission{}, domain.ErrRoundNotFound
	}
	if s.submissions[sub.RoundID] == nil {
		s.submissions[sub.RoundID] = make(map[string]*domain.Submission)
	}
	if _, exists := s.submissions[sub.RoundID][sub.PlayerID]; exists {
		return domain.Submission{}, domain.ErrAlreadySubmitted
	}
	sub.ID = uuid.NewString()
	sub.CreatedAt = s.clock()
	stored := sub
	s.submissions[sub.RoundID][sub.PlayerID] = &stored
	return sub, nil
}

func (s *GameStore) FindSubmission(_ context.Context, roundID, playerID string) (*domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[roundID][playerID]
	if !ok {
		return nil, nil
	}
	copied := *sub
	return &copied, nil
}

func (s *GameStore) CountSubmissionsForRound(_ context.Context, roundID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submissions[roundID]), nil
}

func (s *GameStore) CountCorrectSubmissionsForRound(_ context.Context, roundID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, sub := range s.submissions[roundID] {
		if sub.IsCorrect {
			count++
		}
	}
	return count, nil
}

func (s *GameStore) CountSubmissionsForPlayer(_ context.Context, playerID, gameID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, round := range s.rounds[gameID] {
		if _, ok := s.submissions[round.ID][playerID]; ok {
			count++
		}
	}
	return count, nil
}

func (s *GameStore) SubmissionsForPlayer(_ context.Context, playerID, gameID string) ([]domain.RoundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]domain.RoundResult, 0, len(s.rounds[gameID]))
	for _, round := range s.rounds[gameID] {
		sub, ok := s.submissions[round.ID][playerID]
		if !ok {
			continue
		}
		results = append(results, domain.RoundResult{
			RoundNumber:   round.RoundNumber,
			EquationText:  round.EquationText,
			CorrectAnswer: round.CorrectAnswer,
			PlayerAnswer:  sub.Answer,
			IsCorrect:     sub.IsCorrect,
			TimeTakenMs:   sub.TimeTakenMs,
			Score:         sub.Score,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].RoundNumber < results[j].RoundNumber
	})
	return results, nil
}

func (s *GameStore) Leaderboard(_ context.Context, gameID string) ([]domain.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]domain.LeaderboardEntry, 0, len(s.players[gameID]))
	for _, player := range s.players[gameID] {
		entry := domain.LeaderboardEntry{
			PlayerID:    player.ID,
			DisplayName: player.DisplayName,
		}
		totalCorrectTime := 0
		for _, round := range s.rounds[gameID] {
			sub, ok := s.submissions[round.ID][player.ID]
			if !ok {
				continue
			}
			entry.TotalScore += sub.Score
			if sub.IsCorrect {
				entry.CorrectCount++
				if sub.TimeTakenMs != nil {
					totalCorrectTime += *sub.TimeTakenMs
				}
			}
		}
		if entry.CorrectCount > 0 {
			entry.AverageTimeMs = totalCorrectTime / entry.CorrectCount
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TotalScore != entries[j].TotalScore {
			return entries[i].TotalScore > entries[j].TotalScore
		}
		if entries[i].CorrectCount != entries[j].CorrectCount {
			return entries[i].CorrectCount > entries[j].CorrectCount
		}
		return entries[i].AverageTimeMs < entries[j].AverageTimeMs
	})
	return entries, nil
}
