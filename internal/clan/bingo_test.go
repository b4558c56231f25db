package clan

import (
	"fmt"
	"math/rand"
	"testing"
)

func testPool() TaskPool {
	var p TaskPool
	for i := 0; i < 20; i++ {
		p.Common = append(p.Common, fmt.Sprintf("common %d", i))
	}
	for i := 0; i < 10; i++ {
		p.Uncommon = append(p.Uncommon, fmt.Sprintf("uncommon %d", i))
	}
	for i := 0; i < 5; i++ {
		p.Rare = append(p.Rare, fmt.Sprintf("rare %d", i))
	}
	return p
}

func TestGenerateBoard(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	board, err := GenerateBoard(rng, testPool())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(board) != BoardSize {
		t.Fatalf("board size = %d, want %d", len(board), BoardSize)
	}

	byRarity := map[string]int{}
	names := map[string]bool{}
	for _, tile := range board {
		byRarity[tile.Rarity]++
		if names[tile.Name] {
			t.Fatalf("duplicate tile %q", tile.Name)
		}
		names[tile.Name] = true
	}
	if byRarity[RarityCommon] != 15 || byRarity[RarityUncommon] != 7 || byRarity[RarityRare] != 3 {
		t.Fatalf("rarity mix wrong: %v", byRarity)
	}
}

func TestGenerateBoardPoolTooSmall(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	p := testPool()
	p.Rare = p.Rare[:2]
	if _, err := GenerateBoard(rng, p); err == nil {
		t.Fatal("expected error for short rare pool")
	}
}
