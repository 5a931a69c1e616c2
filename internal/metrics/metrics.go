package metrics

import (
	"sync"
	"time"
)

// Recorder is a process-wide counter store the coordinator reports
// lifecycle events to. It is owned by the hosting process and safe for
// concurrent use.
type Recorder struct {
	mu                   sync.Mutex
	gamesCreated         int64
	gamesFinished        int64
	roundsCompleted      int64
	submissionsReceived  int64
	correctSubmissions   int64
	incorrectSubmissions int64
	apiErrors            int64
	totalRoundDuration   time.Duration
	startedAt            time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{startedAt: time.Now()}
}

func (r *Recorder) GameCreated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gamesCreated++
}

func (r *Recorder) GameFinished() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gamesFinished++
}

func (r *Recorder) RoundCompleted(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roundsCompleted++
	r.totalRoundDuration += duration
}

func (r *Recorder) Submission(correct bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submissionsReceived++
	if correct {
		r.correctSubmissions++
	} else {
		r.incorrectSubmissions++
	}
}

func (r *Recorder) APIError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apiErrors++
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	GamesCreated         int64     `json:"gamesCreated"`
	GamesFinished        int64     `json:"gamesFinished"`
	RoundsCompleted      int64     `json:"roundsCompleted"`
	SubmissionsReceived  int64     `json:"submissionsReceived"`
	CorrectSubmissions   int64     `json:"correctSubmissions"`
	IncorrectSubmissions int64     `json:"incorrectSubmissions"`
	APIErrors            int64     `json:"apiErrors"`
	AvgRoundDurationMs   int64     `json:"avgRoundDurationMs"`
	StartedAt            time.Time `json:"startedAt"`
}

func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var avgMs int64
	if r.roundsCompleted > 0 {
		avgMs = r.totalRoundDuration.Milliseconds() / r.roundsCompleted
	}
	return Snapshot{
		GamesCreated:         r.gamesCreated,
		GamesFinished:        r.gamesFinished,
		RoundsCompleted:      r.roundsCompleted,
		SubmissionsReceived:  r.submissionsReceived,
		CorrectSubmissions:   r.correctSubmissions,
		IncorrectSubmissions: r.incorrectSubmissions,
		APIErrors:            r.apiErrors,
		AvgRoundDurationMs:   avgMs,
		StartedAt:            r.startedAt,
	}
}

// Reset zeroes all counters, used between test runs.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gamesCreated = 0
	r.gamesFinished = 0
	r.roundsCompleted = 0
	r.submissionsReceived = 0
	r.correctSubmissions = 0
	r.incorrectSubmissions = 0
	r.apiErrors = 0
	r.totalRoundDuration = 0
	r.startedAt = time.Now()
}
