package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8080", "xenopsd RPC address")
	vmID := flag.String("vm", "", "vm id to query")
	flag.Parse()

	if *vmID == "" {
		log.Fatal("missing -vm")
	}

	body, _ := json.Marshal(map[string]string{"vm_id": *vmID})
	resp, err := http.Post(*addr+"/api/vm/get_state", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("read response: %v", err)
	}

	fmt.Println(string(out))
}
