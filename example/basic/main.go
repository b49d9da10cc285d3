package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lodestar-labs/fetch-go/fetch"
)

type todo struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 1. Build a client layered for a single API.
	client := fetch.New(
		fetch.WithBaseURL("https://jsonplaceholder.typicode.com"),
		fetch.WithUserAgent("fetch-example/1.0"),
		fetch.WithRetry(fetch.DefaultRetryConfig()),
		fetch.WithCache(fetch.NewMemoryStorage()),
		fetch.WithBeforeRequestHook(fetch.CorrelationIDHook("X-Request-Id")),
	)

	// 2. Simple GET with a typed JSON body.
	var item todo
	if err := client.Get(ctx, "/todos/1").JSON(&item); err != nil {
		log.Fatalf("GET failed: %v", err)
	}
	fmt.Printf("✓ fetched todo %d: %q (done=%v)\n", item.ID, item.Title, item.Completed)

	// 3. POST JSON and inspect the full response.
	resp, err := client.Post(ctx, "/todos", fetch.WithJSON(todo{Title: "write docs"})).Response()
	if err != nil {
		log.Fatalf("POST failed: %v", err)
	}
	fmt.Printf("✓ created: %s (retries=%d)\n", resp.Status, resp.RetryCount)

	// 4. A repeated GET is served from the response cache.
	cached, err := client.Get(ctx, "/todos/1").Response()
	if err != nil {
		log.Fatalf("cached GET failed: %v", err)
	}
	fmt.Printf("✓ cache hit: %v\n", cached.FromCache)

	// 5. A request can be canceled while in flight.
	result := client.Get(ctx, "/todos/2")
	result.Cancel()
	if _, err := result.Response(); err != nil {
		fmt.Printf("✓ canceled request surfaced: %v\n", err)
	}

	// 6. Per-request options override the client layer.
	text, err := client.Get(ctx, "/todos/3",
		fetch.WithResponseType(fetch.ResponseText),
		fetch.WithTotalTimeout(5*time.Second),
	).Text()
	if err != nil {
		log.Fatalf("text GET failed: %v", err)
	}
	fmt.Printf("✓ raw body: %d bytes\n", len(text))
}
