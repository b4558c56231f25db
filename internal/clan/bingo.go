package clan

import (
	"fmt"
	"math/rand"
)

// Board composition for a standard 5x5 bingo card.
const (
	BoardSize     = 25
	boardCommon   = 15
	boardUncommon = 7
	boardRare     = 3
)

const (
	RarityCommon   = "common"
	RarityUncommon = "uncommon"
	RarityRare     = "rare"
)

// Points awarded when a submission for a tile of the given rarity is
// approved.
const (
	tilePointsCommon   = 10
	tilePointsUncommon = 25
	tilePointsRare     = 50
)

func TilePoints(rarity string) int64 {
	switch rarity {
	case RarityRare:
		return tilePointsRare
	case RarityUncommon:
		return tilePointsUncommon
	default:
		return tilePointsCommon
	}
}

// TaskPool holds candidate tasks per rarity tier.
type TaskPool struct {
	Common   []string
	Uncommon []string
	Rare     []string
}

// GenerateBoard draws a 25-tile board (15 common, 7 uncommon, 3 rare) from
// the pool and shuffles tile positions so rarity placement is unpredictable.
func GenerateBoard(rng *rand.Rand, pool TaskPool) ([]BingoTile, error) {
	if len(pool.Common) < boardCommon {
		return nil, fmt.Errorf("need %d common tasks, have %d", boardCommon, len(pool.Common))
	}
	if len(pool.Uncommon) < boardUncommon {
		return nil, fmt.Errorf("need %d uncommon tasks, have %d", boardUncommon, len(pool.Uncommon))
	}
	if len(pool.Rare) < boardRare {
		return nil, fmt.Errorf("need %d rare tasks, have %d", boardRare, len(pool.Rare))
	}

	board := make([]BingoTile, 0, BoardSize)
	for _, i := range sampleIndexes(rng, len(pool.Common), boardCommon) {
		board = append(board, BingoTile{Name: pool.Common[i], Rarity: RarityCommon})
	}
	for _, i := range sampleIndexes(rng, len(pool.Uncommon), boardUncommon) {
		board = append(board, BingoTile{Name: pool.Uncommon[i], Rarity: RarityUncommon})
	}
	for _, i := range sampleIndexes(rng, len(pool.Rare), boardRare) {
		board = append(board, BingoTile{Name: pool.Rare[i], Rarity: RarityRare})
	}

	rng.Shuffle(len(board), func(i, j int) { board[i], board[j] = board[j], board[i] })
	return board, nil
}

// DefaultTaskPool is the stock task list used when an event is created
// without a custom pool.
func DefaultTaskPool() TaskPool {
	return TaskPool{
		Common: []string{
			"Obtain any unique from Barrows",
			"Receive a clue scroll from a slayer task",
			"Complete a full Wintertodt round with 750+ points",
			"Obtain a fire cape",
			"Get a dragon axe drop",
			"Complete 5 laps of the Ardougne rooftop course",
			"Obtain a curved bone",
			"Win a game of Castle Wars",
			"Obtain any godsword shard",
			"Get a crystal key from pickpocketing",
			"Obtain a dark totem from the Catacombs",
			"Complete a Tempoross fight with max reward permits",
			"Obtain a long bone drop",
			"Get 100 Zeah favour in any house",
			"Complete a round of Pest Control on veteran boat",
			"Obtain a bryophyta essence",
			"Get a larran's key drop",
			"Complete a master farmer pickpocket streak of 20",
		},
		Uncommon: []string{
			"Obtain a visage drop",
			"Receive any Zulrah unique",
			"Get a whip drop from abyssal demons",
			"Obtain any Cerberus crystal",
			"Receive a dragon warhammer drop",
			"Obtain any Grotesque Guardians unique",
			"Get a basilisk jaw",
			"Obtain a primordial crystal",
			"Receive a zenyte shard",
		},
		Rare: []string{
			"Obtain a Twisted Bow",
			"Receive a Scythe of Vitur",
			"Get any pet drop",
			"Obtain an Elysian sigil",
		},
	}
}
