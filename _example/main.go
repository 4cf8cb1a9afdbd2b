package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/snipvec/snipvec"
	"github.com/snipvec/snipvec/testutil"
)

func main() {
	dir, err := os.MkdirTemp("", "snipvec-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()

	// Deterministic offline embedder; swap in embed/openai for real use.
	store, err := snipvec.Open(ctx, dir, testutil.NewKeywordEmbedder(64))
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	snippets := []snipvec.Snippet{
		{Description: "reverse a string in place", Language: "go", Code: "func reverse(s []byte) { for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 { s[i], s[j] = s[j], s[i] } }"},
		{Description: "reverse a string", Language: "python", Code: "def reverse(s):\n    return s[::-1]"},
		{Description: "read a file line by line", Language: "go", Code: "scanner := bufio.NewScanner(f)\nfor scanner.Scan() {\n    line := scanner.Text()\n}"},
		{Description: "http get with a timeout", Language: "go", Code: "client := &http.Client{Timeout: 5 * time.Second}\nresp, err := client.Get(url)"},
		{Description: "parse json into a map", Language: "python", Code: "data = json.loads(raw)"},
	}

	fmt.Println("--- Store ---")

	start := time.Now()

	for _, snippet := range snippets {
		id, err := store.StoreSnippet(ctx, snippet)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("ID: %d, Language: %s, Description: %s\n", id, snippet.Language, snippet.Description)
	}

	fmt.Printf("Seconds: %.4f\n\n", time.Since(start).Seconds())

	fmt.Println("--- Search ---")

	start = time.Now()

	results, err := store.Search("reverse text").KNN(3).Execute(ctx)
	if err != nil {
		log.Fatal(err)
	}

	printResults(results)
	fmt.Printf("Seconds: %.6f\n\n", time.Since(start).Seconds())

	fmt.Println("--- Search (python only) ---")

	results, err = store.Search("reverse text").KNN(3).Language("python").Execute(ctx)
	if err != nil {
		log.Fatal(err)
	}

	printResults(results)
	fmt.Println()

	fmt.Println("--- Delete ---")

	if err := store.Delete(ctx, 0); err != nil {
		log.Fatal(err)
	}

	stats := store.Stats()
	fmt.Printf("Live: %d, Tombstoned: %d, Total slots: %d\n", stats.LiveEntries, stats.TombstonedEntries, stats.TotalEntries)
}

func printResults(results []snipvec.SearchResult) {
	for _, r := range results {
		fmt.Printf("ID: %d, Distance: %.4f, Language: %s, Description: %s\n", r.ID, r.Distance, r.Language, r.Description)
	}
}
