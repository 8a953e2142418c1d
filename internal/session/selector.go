package session

import rand "math/rand/v2"

// PickWinner chooses one claimed number uniformly at random and returns it
// together with the claimant's display name. The distribution is over the
// numbers actually claimed, never over the full pool. Writing the result
// back to the session is the caller's responsibility.
func PickWinner(claims map[int]Claim, rng *rand.Rand) (int, string, error) {
	if len(claims) == 0 {
		return 0, "", ErrNoClaims
	}

	numbers := make([]int, 0, len(claims))
	for number := range claims {
		numbers = append(numbers, number)
	}

	winner := numbers[rng.IntN(len(numbers))]
	return winner, claims[winner].DisplayName, nil
}
