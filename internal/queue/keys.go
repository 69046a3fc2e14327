package queue

import "fmt"

// Key layouts, matching §6.3.
const (
	keyClaimable = "bets:claimable"
	keyProcessing = "bets:processing"
)

func keyBet(id string) string {
	return "bet:" + id
}

func keyUser(wallet string) string {
	return fmt.Sprintf("bets:user:%s", wallet)
}
