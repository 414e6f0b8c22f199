// Package main generates API keys and their bcrypt hashes for the
// proctoring engine configuration.
package main

import (
	"flag"
	"fmt"
	"os"

	"proctor-engine/internal/api/auth"
)

func main() {
	existing := flag.String("hash", "", "hash an existing key instead of generating a new one")
	flag.Parse()

	if *existing != "" {
		hash, err := auth.HashKey(*existing)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("hash: %s\n", hash)
		return
	}

	key, hash, err := auth.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("key:  %s\n", key)
	fmt.Printf("hash: %s\n", hash)
	fmt.Println()
	fmt.Println("Store the hash under auth.api_key_hashes in the config file.")
	fmt.Println("The key itself is shown once and not recoverable from the hash.")
}
