package item

import "math"

// TwoPL is the two-parameter logistic response model:
//
//	P(correct) = 1 / (1 + exp(-discrimination * (ability - difficulty)))
//
// Ability and difficulty share the mastery scale.
func TwoPL(ability, difficulty, discrimination float64) float64 {
	return 1.0 / (1.0 + math.Exp(-discrimination*(ability-difficulty)))
}
