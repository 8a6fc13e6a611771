// Command cssgrubber runs a long-lived CSS-harvesting crawler: starting
// from a small seed list (http://cssdb.co by default, or whatever URLs
// are given on the command line), it discovers pages, follows links, and
// writes every sanitised stylesheet it finds under css/.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/tonimc/cssgrubber/crawler"
)

func main() {
	opts := []crawler.CrawlerOpt{}
	if len(os.Args) > 1 {
		opts = append(opts, crawler.WithSeedURLs(os.Args[1:]...))
	}

	c := crawler.NewFromEnv(opts...)

	fmt.Println("cssgrubber starting; ctrl-c to stop")
	if err := c.Crawl(context.Background()); err != nil {
		log.Fatalf("crawl: %v", err)
	}
}
