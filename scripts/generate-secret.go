// Package main is a development utility for generating a test app secret with its bcrypt
// hash and display prefix pre-computed. It prints the raw secret, hash, prefix, and a
// ready-to-run SQL UPDATE statement so developers can quickly seed a usable app credential
// in a local database without running the full server flow. Do not use generated secrets
// in production — create apps through the API so rotation and audit records work.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	// Generate random bytes
	randomBytes := make([]byte, 32)
	_, err := rand.Read(randomBytes)
	if err != nil {
		log.Fatal(err)
	}

	// Encode to base64
	randomPart := base64.RawURLEncoding.EncodeToString(randomBytes)

	// Create full secret
	fullSecret := fmt.Sprintf("acs_%s", randomPart)

	// Hash with bcrypt
	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullSecret), 12)
	if err != nil {
		log.Fatal(err)
	}

	// Display prefix
	displayPrefix := fullSecret[:10]

	fmt.Println("==========================================================")
	fmt.Println("App Secret Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nFull Secret: %s\n", fullSecret)
	fmt.Printf("\nHash: %s\n", string(hashBytes))
	fmt.Printf("\nDisplay Prefix: %s\n", displayPrefix)
	fmt.Println("\n==========================================================")
	fmt.Println("SQL Update:")
	fmt.Println("==========================================================")
	fmt.Printf(`
UPDATE apps
SET secret_hash = '%s',
    secret_prefix = '%s'
WHERE developer_id = (SELECT id FROM developers WHERE email = 'admin@dev.local');
`, string(hashBytes), displayPrefix)
	fmt.Println("\n==========================================================")
	fmt.Printf("Authorization Header: Bearer %s\n", fullSecret)
	fmt.Println("==========================================================")
}
