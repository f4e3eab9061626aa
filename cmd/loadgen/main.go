package main

import (
	"bytes"
	"flag"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

func main() {
	var (
		target   = flag.String("target", "http://localhost:8080", "orders API base URL")
		product  = flag.String("product", "11111111-1111-1111-1111-111111111111", "product id to order (migrations seed this one)")
		requests = flag.Int("n", 50, "number of orders to create")
		workers  = flag.Int("c", 10, "concurrent workers")
	)
	flag.Parse()

	fmt.Printf("Creating %d orders against %s with %d workers...\n", *requests, *target, *workers)

	start := time.Now()
	var created, failed atomic.Int64
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				// Random customer ids; amounts above the simulated gateway
				// limit exercise the decline path.
				body := []byte(fmt.Sprintf(
					`{"customer_id": "%s", "product_id": "%s", "quantity": 1, "total_amount": %.2f}`,
					uuid.New().String(), *product, 100.0+float64(time.Now().UnixNano()%12000)))

				resp, err := http.Post(*target+"/api/v1/orders", "application/json", bytes.NewBuffer(body))
				if err != nil {
					failed.Add(1)
					continue
				}
				resp.Body.Close()
				if resp.StatusCode == http.StatusCreated {
					created.Add(1)
				} else {
					failed.Add(1)
				}
			}
		}()
	}

	for i := 0; i < *requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	fmt.Printf("Finished in %v: %d created, %d failed\n", time.Since(start), created.Load(), failed.Load())
}
