package app

// CalculateScore maps a submission's outcome to points. Incorrect answers
// score 0 no matter what. Correct answers earn a base 100, +25 for being
// first, and a speed bonus of max(0, 50 - timeTakenMs/200) when the client
// reported a time. The bonus bottoms out at 10 seconds; the maximum total
// is 175.
func CalculateScore(isCorrect, isFirstCorrect bool, timeTakenMs *int) int {
	if !isCorrect {
		return 0
	}

	score := 100
	if isFirstCorrect {
		score += 25
	}
	if timeTakenMs != nil {
		bonus := 50 - *timeTakenMs/200
		if bonus > 0 {
			score += bonus
		}
	}
	return score
}
