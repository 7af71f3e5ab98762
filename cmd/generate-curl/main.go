package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"powledger/blockchain"
	"powledger/p2p"
)

var demoTransactions = [][3]any{
	{"alice", "bob", 5.0},
	{"bob", "carol", 2.5},
	{"carol", "alice", 0.75},
	{"dave", "erin", 10.0},
}

func main() {
	node := pflag.String("node", "localhost:5000", "node the scripts talk to")
	peers := pflag.StringSlice("peers", []string{"localhost:5001", "localhost:5002"}, "peers registered by register_nodes.sh")
	dir := pflag.String("out", "curl", "output directory")
	pflag.Parse()

	base, err := p2p.PeerURL(*node, "/")
	if err != nil {
		log.Fatalf("invalid node address %q: %v", *node, err)
	}
	baseURL := strings.TrimSuffix(base.String(), "/")

	fmt.Println("Generating curl test scripts...")

	var txScripts []string
	for i, d := range demoTransactions {
		tx, err := blockchain.NewTransaction(d[0].(string), d[1].(string), d[2].(float64))
		if err != nil {
			log.Fatalf("demo transaction %d: %v", i+1, err)
		}
		body, err := json.MarshalIndent(p2p.NewTransactionRequest(tx.Sender, tx.Recipient, tx.Amount), "", "  ")
		if err != nil {
			log.Fatalf("failed to marshal transaction %d: %v", i+1, err)
		}
		name := fmt.Sprintf("post_transaction_%d.sh", i+1)
		script := fmt.Sprintf(`#!/bin/bash
echo "=== POST %s: %s -> %s (%v) ==="
curl -s -X POST %s%s \
  -H "Content-Type: application/json" \
  -d '%s' \
  --connect-timeout 2 \
  | jq '.' 2>/dev/null || cat
echo ""
`, p2p.NewTransactionPath, tx.Sender, tx.Recipient, tx.Amount, baseURL, p2p.NewTransactionPath, body)
		mustWrite(*dir, name, script)
		txScripts = append(txScripts, name)
	}

	nodes, err := json.Marshal(p2p.RegisterNodesRequest{Nodes: *peers})
	if err != nil {
		log.Fatal("failed to marshal peers:", err)
	}
	mustWrite(*dir, "register_nodes.sh", fmt.Sprintf(`#!/bin/bash
echo "=== POST %s ==="
curl -s -X POST %s%s -H "Content-Type: application/json" -d '%s' | jq '.' 2>/dev/null || cat
echo ""
`, p2p.RegisterNodesPath, baseURL, p2p.RegisterNodesPath, nodes))

	for _, get := range []struct{ name, path string }{
		{"mine.sh", p2p.MinePath},
		{"chain.sh", p2p.ChainPath},
		{"nodes.sh", p2p.NodesPath},
		{"resolve.sh", p2p.ResolvePath},
	} {
		mustWrite(*dir, get.name, fmt.Sprintf(`#!/bin/bash
echo "=== GET %s ==="
curl -s %s%s | jq '.' 2>/dev/null || cat
echo ""
`, get.path, baseURL, get.path))
	}

	all := fmt.Sprintf(`#!/bin/bash
cd "$(dirname "$0")"
if ! curl -s --connect-timeout 2 --max-time 2 %s%s > /dev/null; then
    echo "Node not responding on %s"
    echo "Start it with: go run ./cmd/node run --address %s"
    exit 1
fi

`, baseURL, p2p.ChainPath, *node, *node)
	for _, s := range txScripts {
		all += "./" + s + "\n"
	}
	all += "./mine.sh\n./chain.sh\n./register_nodes.sh\n./resolve.sh\n"
	mustWrite(*dir, "run_all.sh", all)

	fmt.Printf("\nGenerated %d test scripts in %s\n", len(txScripts)+6, *dir)
	fmt.Println("Usage:")
	fmt.Printf("  1. Start your node: go run ./cmd/node run --address %s\n", *node)
	fmt.Printf("  2. Run everything: ./%s/run_all.sh\n", *dir)
}

func mustWrite(dir, name, content string) {
	if err := writeScript(filepath.Join(dir, name), content); err != nil {
		log.Fatalf("failed to write script %s: %v", name, err)
	}
	fmt.Printf("Generated: %s\n", filepath.Join(dir, name))
}

func writeScript(filename, content string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return os.WriteFile(filename, []byte(content), 0755)
}
