package equation

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Difficulty scales how hairy the generated expression is.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// ForRound maps a round number to a difficulty tier: 1-3 easy, 4-7 medium,
// 8 and up hard.
func ForRound(roundNumber int) Difficulty {
	switch {
	case roundNumber <= 3:
		return Easy
	case roundNumber <= 7:
		return Medium
	default:
		return Hard
	}
}

// Equation pairs the displayed expression with its exact answer.
type Equation struct {
	Text   string
	Answer float64
}

// Generator builds random arithmetic equations. The advertised answer is
// always the evaluator's result for the exact expression text, so the two
// cannot drift apart.
type Generator struct {
	eval Evaluator

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewGenerator(eval Evaluator) *Generator {
	return NewGeneratorWithRand(eval, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewGeneratorWithRand allows deterministic expressions in tests.
func NewGeneratorWithRand(eval Evaluator, rnd *rand.Rand) *Generator {
	return &Generator{eval: eval, rnd: rnd}
}

func (g *Generator) Generate(ctx context.Context, difficulty Difficulty) (Equation, error) {
	text := g.buildExpression(difficulty)
	answer, err := g.eval.Evaluate(ctx, text)
	if err != nil {
		return Equation{}, fmt.Errorf("evaluate %q: %w", text, err)
	}
	return Equation{Text: text, Answer: answer}, nil
}

func (g *Generator) buildExpression(difficulty Difficulty) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch difficulty {
	case Medium:
		ops := []string{"+", "-", "*"}
		op1 := ops[g.rnd.Intn(3)]
		op2 := ops[g.rnd.Intn(3)]
		x := g.intn(2, 12)
		y := g.intn(2, 12)
		z := g.intn(2, 12)
		return fmt.Sprintf("%d %s %d %s %d", x, op1, y, op2, z)
	case Hard:
		base := g.intn(2, 10)
		add := g.intn(1, 15)
		mult := g.intn(2, 9)
		return fmt.Sprintf("(%d + %d) * %d", base, add, mult)
	default:
		a := g.intn(1, 20)
		b := g.intn(1, 20)
		op := "+"
		if g.rnd.Intn(2) == 1 {
			op = "-"
		}
		return fmt.Sprintf("%d %s %d", a, op, b)
	}
}

// intn returns a random integer in [min, max].
func (g *Generator) intn(min, max int) int {
	return g.rnd.Intn(max-min+1) + min
}
