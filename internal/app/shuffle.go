package app

import (
	"math/rand"

	"qbank-service/internal/domain"
)

// ShuffleQuestions returns a uniform random permutation of pool without
// mutating it. Standard Fisher-Yates from the last element down.
func ShuffleQuestions(rnd *rand.Rand, pool []domain.Question) []domain.Question {
	out := make([]domain.Question, len(pool))
	copy(out, pool)
	for i := len(out) - 1; i > 0; i-- {
		j := rnd.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
