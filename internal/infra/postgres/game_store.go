package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"mathblitz-service/internal/app"
	"mathblitz-service/internal/domain"
)

type gameRow struct {
	bun.BaseModel `bun:"table:games,alias:g"`

	ID                 string    `bun:"id,pk"`
	GameCode           string    `bun:"game_code"`
	Status             string    `bun:"status"`
	CurrentRoundNumber int       `bun:"current_round_number"`
	CreatedAt          time.Time `bun:"created_at"`
}

type playerRow struct {
	bun.BaseModel `bun:"table:players,alias:p"`

	ID           string    `bun:"id,pk"`
	GameID       string    `bun:"game_id"`
	DisplayName  string    `bun:"display_name"`
	SessionToken string    `bun:"session_token"`
	IsHost       bool      `bun:"is_host"`
	JoinedAt     time.Time `bun:"joined_at"`
}

type roundRow struct {
	bun.BaseModel `bun:"table:rounds,alias:r"`

	ID              string     `bun:"id,pk"`
	GameID          string     `bun:"game_id"`
	RoundNumber     int        `bun:"round_number"`
	EquationText    string     `bun:"equation_text"`
	CorrectAnswer   float64    `bun:"correct_answer"`
	Status          string     `bun:"status"`
	StartedAt       *time.Time `bun:"started_at"`
	FirstCorrectAt  *time.Time `bun:"first_correct_at"`
	CountdownEndsAt *time.Time `bun:"countdown_ends_at"`
	EndedAt         *time.Time `bun:"ended_at"`
}

type submissionRow struct {
	bun.BaseModel `bun:"table:submissions,alias:s"`

	ID          string    `bun:"id,pk"`
	RoundID     string    `bun:"round_id"`
	PlayerID    string    `bun:"player_id"`
	Answer      float64   `bun:"answer"`
	IsCorrect   bool      `bun:"is_correct"`
	Score       int       `bun:"score"`
	TimeTakenMs *int      `bun:"time_taken_ms"`
	CreatedAt   time.Time `bun:"created_at"`
}

// GameStore is the bun-backed implementation of the coordinator's store
// port. The first-correct claim and the (round, player) unique constraint
// carry the two hard atomicity requirements; everything else is plain
// per-record reads and writes.
type GameStore struct {
	db *bun.DB
}

func NewGameStore(db *bun.DB) *GameStore {
	return &GameStore{db: db}
}

func (s *GameStore) CreateGame(ctx context.Context, gameCode string) (domain.Game, error) {
	row := gameRow{
		ID:        uuid.NewString(),
		GameCode:  gameCode,
		Status:    string(domain.GameWaiting),
		CreatedAt: time.Now(),
	}
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return domain.Game{}, fmt.Errorf("insert game: %w", err)
	}
	return gameFromRow(row), nil
}

func (s *GameStore) FindGameByCode(ctx context.Context, gameCode string) (domain.Game, error) {
	var row gameRow
	err := s.db.NewSelect().Model(&row).Where("game_code = ?", gameCode).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Game{}, domain.ErrGameNotFound
		}
		return domain.Game{}, fmt.Errorf("find game: %w", err)
	}
	return gameFromRow(row), nil
}

func (s *GameStore) FindGameWithPlayers(ctx context.Context, gameCode string) (domain.Game, []domain.Player, error) {
	game, err := s.FindGameByCode(ctx, gameCode)
	if err != nil {
		return domain.Game{}, nil, err
	}
	var rows []playerRow
	err = s.db.NewSelect().Model(&rows).Where("game_id = ?", game.ID).Order("joined_at ASC").Scan(ctx)
	if err != nil {
		return domain.Game{}, nil, fmt.Errorf("list players: %w", err)
	}
	players := make([]domain.Player, 0, len(rows))
	for _, r := range rows {
		players = append(players, playerFromRow(r))
	}
	return game, players, nil
}

func (s *GameStore) UpdateGameStatus(ctx context.Context, gameCode string, status domain.GameStatus) error {
	_, err := s.db.NewUpdate().Model((*gameRow)(nil)).
		Set("status = ?", string(status)).
		Where("game_code = ?", gameCode).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update game status: %w", err)
	}
	return nil
}

func (s *GameStore) UpdateGameCurrentRound(ctx context.Context, gameCode string, roundNumber int) error {
	_, err := s.db.NewUpdate().Model((*gameRow)(nil)).
		Set("current_round_number = ?", roundNumber).
		Where("game_code = ?", gameCode).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update current round: %w", err)
	}
	return nil
}

func (s *GameStore) CreatePlayer(ctx context.Context, gameID, displayName, sessionToken string, isHost bool) (domain.Player, error) {
	row := playerRow{
		ID:           uuid.NewString(),
		GameID:       gameID,
		DisplayName:  displayName,
		SessionToken: sessionToken,
		IsHost:       isHost,
		JoinedAt:     time.Now(),
	}
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return domain.Player{}, fmt.Errorf("insert player: %w", err)
	}
	return playerFromRow(row), nil
}

func (s *GameStore) CountPlayers(ctx context.Context, gameID string) (int, error) {
	return s.db.NewSelect().Model((*playerRow)(nil)).Where("game_id = ?", gameID).Count(ctx)
}

func (s *GameStore) CreateRounds(ctx context.Context, rounds []domain.Round) error {
	rows := make([]roundRow, 0, len(rounds))
	for _, r := range rounds {
		rows = append(rows, roundRow{
			ID:            uuid.NewString(),
			GameID:        r.GameID,
			RoundNumber:   r.RoundNumber,
			EquationText:  r.EquationText,
			CorrectAnswer: r.CorrectAnswer,
			Status:        string(r.Status),
		})
	}
	if _, err := s.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("insert rounds: %w", err)
	}
	return nil
}

func (s *GameStore) FindRound(ctx context.Context, gameID string, roundNumber int) (domain.Round, error) {
	var row roundRow
	err := s.db.NewSelect().Model(&row).
		Where("game_id = ?", gameID).
		Where("round_number = ?", roundNumber).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Round{}, domain.ErrRoundNotFound
		}
		return domain.Round{}, fmt.Errorf("find round: %w", err)
	}
	return roundFromRow(row), nil
}

func (s *GameStore) UpdateRoundStatus(ctx context.Context, roundID string, status domain.RoundStatus, ts app.RoundTimestamps) error {
	q := s.db.NewUpdate().Model((*roundRow)(nil)).
		Set("status = ?", string(status)).
		Where("id = ?", roundID)
	if ts.StartedAt != nil {
		q = q.Set("started_at = ?", *ts.StartedAt)
	}
	if ts.EndedAt != nil {
		q = q.Set("ended_at = ?", *ts.EndedAt)
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("update round status: %w", err)
	}
	return nil
}

// ClaimFirstCorrect is a single conditional UPDATE guarded on
// first_correct_at IS NULL, so exactly one of any number of racing
// correct submissions wins the claim.
func (s *GameStore) ClaimFirstCorrect(ctx context.Context, roundID string, firstCorrectAt, countdownEndsAt time.Time) (bool, error) {
	res, err := s.db.NewUpdate().Model((*roundRow)(nil)).
		Set("status = ?", string(domain.RoundCountdown)).
		Set("first_correct_at = ?", firstCorrectAt).
		Set("countdown_ends_at = ?", countdownEndsAt).
		Where("id = ?", roundID).
		Where("first_correct_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("claim first correct: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *GameStore) CountRoundsWithStatus(ctx context.Context, gameID string, status domain.RoundStatus) (int, error) {
	return s.db.NewSelect().Model((*roundRow)(nil)).
		Where("game_id = ?", gameID).
		Where("status = ?", string(status)).
		Count(ctx)
}

func (s *GameStore) CreateSubmission(ctx context.Context, sub domain.Submission) (domain.Submission, error) {
	row := submissionRow{
		ID:          uuid.NewString(),
		RoundID:     sub.RoundID,
		PlayerID:    sub.PlayerID,
		Answer:      sub.Answer,
		IsCorrect:   sub.IsCorrect,
		Score:       sub.Score,
		TimeTakenMs: sub.TimeTakenMs,
		CreatedAt:   time.Now(),
	}
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		// The unique constraint on (round_id, player_id) is the real
		// duplicate guard under racing submissions.
		var pgErr pgdriver.Error
		if errors.As(err, &pgErr) && pgErr.IntegrityViolation() {
			return domain.Submission{}, domain.ErrAlreadySubmitted
		}
		return domain.Submission{}, fmt.Errorf("insert submission: %w", err)
	}
	return submissionFromRow(row), nil
}

func (s *GameStore) FindSubmission(ctx context.Context, roundID, playerID string) (*domain.Submission, error) {
	var row submissionRow
	err := s.db.NewSelect().Model(&row).
		Where("round_id = ?", roundID).
		Where("player_id = ?", playerID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find submission: %w", err)
	}
	sub := submissionFromRow(row)
	return &sub, nil
}

func (s *GameStore) CountSubmissionsForRound(ctx context.Context, roundID string) (int, error) {
	return s.db.NewSelect().Model((*submissionRow)(nil)).Where("round_id = ?", roundID).Count(ctx)
}

func (s *GameStore) CountCorrectSubmissionsForRound(ctx context.Context, roundID string) (int, error) {
	return s.db.NewSelect().Model((*submissionRow)(nil)).
		Where("round_id = ?", roundID).
		Where("is_correct").
		Count(ctx)
}

func (s *GameStore) CountSubmissionsForPlayer(ctx context.Context, playerID, gameID string) (int, error) {
	return s.db.NewSelect().Model((*submissionRow)(nil)).
		Join("JOIN rounds AS r ON r.id = s.round_id").
		Where("s.player_id = ?", playerID).
		Where("r.game_id = ?", gameID).
		Count(ctx)
}

func (s *GameStore) SubmissionsForPlayer(ctx context.Context, playerID, gameID string) ([]domain.RoundResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.round_number, r.equation_text, r.correct_answer,
		       s.answer, s.is_correct, s.time_taken_ms, s.score
		FROM submissions s
		JOIN rounds r ON r.id = s.round_id
		WHERE s.player_id = ? AND r.game_id = ?
		ORDER BY r.round_number ASC
	`, playerID, gameID)
	if err != nil {
		return nil, fmt.Errorf("list player submissions: %w", err)
	}
	defer rows.Close()

	var results []domain.RoundResult
	for rows.Next() {
		var r domain.RoundResult
		if err := rows.Scan(&r.RoundNumber, &r.EquationText, &r.CorrectAnswer,
			&r.PlayerAnswer, &r.IsCorrect, &r.TimeTakenMs, &r.Score); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *GameStore) Leaderboard(ctx context.Context, gameID string) ([]domain.LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.display_name,
		       COALESCE(SUM(s.score), 0) AS total_score,
		       COUNT(*) FILTER (WHERE s.is_correct) AS correct_count,
		       COALESCE(ROUND(AVG(COALESCE(s.time_taken_ms, 0)) FILTER (WHERE s.is_correct)), 0)::int AS average_time_ms
		FROM players p
		LEFT JOIN submissions s ON s.player_id = p.id
		WHERE p.game_id = ?
		GROUP BY p.id, p.display_name
		ORDER BY total_score DESC, correct_count DESC, average_time_ms ASC
	`, gameID)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.PlayerID, &e.DisplayName, &e.TotalScore, &e.CorrectCount, &e.AverageTimeMs); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func gameFromRow(row gameRow) domain.Game {
	return domain.Game{
		ID:                 row.ID,
		GameCode:           row.GameCode,
		Status:             domain.GameStatus(row.Status),
		CurrentRoundNumber: row.CurrentRoundNumber,
		CreatedAt:          row.CreatedAt,
	}
}

func playerFromRow(row playerRow) domain.Player {
	return domain.Player{
		ID:           row.ID,
		GameID:       row.GameID,
		DisplayName:  row.DisplayName,
		SessionToken: row.SessionToken,
		IsHost:       row.IsHost,
		JoinedAt:     row.JoinedAt,
	}
}

func roundFromRow(row roundRow) domain.Round {
	return domain.Round{
		ID:              row.ID,
		GameID:          row.GameID,
		RoundNumber:     row.RoundNumber,
		EquationText:    row.EquationText,
		CorrectAnswer:   row.CorrectAnswer,
		Status:          domain.RoundStatus(row.Status),
		StartedAt:       row.StartedAt,
		FirstCorrectAt:  row.FirstCorrectAt,
		CountdownEndsAt: row.CountdownEndsAt,
		EndedAt:         row.EndedAt,
	}
}

func submissionFromRow(row submissionRow) domain.Submission {
	return domain.Submission{
		ID:          row.ID,
		RoundID:     row.RoundID,
		PlayerID:    row.PlayerID,
		Answer:      row.Answer,
		IsCorrect:   row.IsCorrect,
		Score:       row.Score,
		TimeTakenMs: row.TimeTakenMs,
		CreatedAt:   row.CreatedAt,
	}
}
