package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Dispara N reservas simultâneas (um usuário diferente por requisição) contra
// um evento e imprime a contagem por resultado. Com capacidade C, o esperado é
// exatamente min(N, C) respostas 201, independente de N.
//
//	go run ./teste-validacao/disparo-concorrente -url http://localhost:8081 -event palestra-go -n 200
func main() {
	baseURL := flag.String("url", "http://localhost:8081", "endereço do servidor")
	event := flag.String("event", "show-abertura", "id do evento")
	n := flag.Int("n", 100, "quantidade de reservas simultâneas")
	header := flag.String("header", "X-User-ID", "header com a identidade do usuário")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}
	url := strings.TrimRight(*baseURL, "/") + "/events/" + *event + "/reservations"

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts = map[string]int{}
	)
	start := make(chan struct{})
	for i := 0; i < *n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			key := fire(client, url, *header, fmt.Sprintf("carga-%d", i))
			mu.Lock()
			counts[key]++
			mu.Unlock()
		}(i)
	}

	began := time.Now()
	close(start)
	wg.Wait()

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("%d reservas em %s\n", *n, time.Since(began).Round(time.Millisecond))
	for _, k := range keys {
		fmt.Printf("  %-32s %d\n", k, counts[k])
	}
	if counts["201"] == 0 {
		os.Exit(1)
	}
}

func fire(client *http.Client, url, header, user string) string {
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return "erro: " + err.Error()
	}
	req.Header.Set(header, user)

	resp, err := client.Do(req)
	if err != nil {
		return "erro de rede"
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated {
		return "201"
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return fmt.Sprintf("%d %s", resp.StatusCode, body.Reason)
}
