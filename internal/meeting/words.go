package meeting

import (
	"crypto/rand"
	"math/big"
	"strings"
)

var animals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"penguin", "flamingo", "pelican", "swallow", "sparrow", "robin", "toucan", "parrot", "canary", "dolphin",
}

var subjects = []string{
	"algebra", "biology", "chemistry", "physics", "history", "geometry", "poetry", "design", "finance", "robotics",
	"economics", "drawing", "coding", "statistics", "astronomy", "geology", "music", "law", "writing", "ecology",
}

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "purple", "bright", "gentle", "brave", "calm", "swift",
}

var places = []string{
	"campus", "library", "lab", "studio", "garden", "harbor", "meadow", "canyon", "ridge", "orbit",
	"lantern", "cottage", "rocket", "comet", "nebula", "forest", "valley", "island", "summit", "bridge",
}

// Generate returns a random, memorable meeting id such as
// "brave_otter_physics_harbor". Words come from four distinct lists, so the
// result always passes Valid.
func Generate() string {
	lists := [][]string{adjectives, animals, subjects, places}
	words := make([]string, len(lists))
	for i, list := range lists {
		words[i] = list[randomIndex(len(list))]
	}
	return strings.Join(words, "_")
}

// randomIndex returns a cryptographically secure random index below max.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic("meeting: crypto/rand failed: " + err.Error())
	}
	return int(n.Int64())
}
