package main

import (
	"bufio"
	"os"
	"strings"
)

// defaultWords is the built-in secret word list, used whenever no
// --word-list file is provided.
var defaultWords = []string{
	"Lighthouse",
	"Submarine",
	"Campfire",
	"Telescope",
	"Waterfall",
	"Avalanche",
	"Carousel",
	"Scarecrow",
	"Labyrinth",
	"Hurricane",
	"Jellyfish",
	"Parachute",
	"Vineyard",
	"Drawbridge",
	"Observatory",
	"Quicksand",
	"Tumbleweed",
	"Gondola",
	"Catapult",
	"Hourglass",
}

// loadWordList reads a newline-delimited word file. Blank lines and lines
// starting with # are skipped. An empty path selects the built-in list.
func loadWordList(path string) ([]string, error) {
	if path == "" {
		return defaultWords, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word == "" || strings.HasPrefix(word, "#") {
			continue
		}
		words = append(words, word)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(words) == 0 {
		return defaultWords, nil
	}

	return words, nil
}
