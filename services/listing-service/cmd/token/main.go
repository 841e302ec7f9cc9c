// Command token mints access tokens the listing API accepts, for local
// development and smoke tests against a running stack.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/badgerbay/marketplace/pkg/auth"
	"github.com/badgerbay/marketplace/services/listing-service/internal/config"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	userFlag := flag.String("user", "", "user ID to issue the token for (random when empty)")
	name := flag.String("name", "dev", "display name carried in the token")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	config.LoadDotEnv()

	// 1. Load Keys
	privateKeyPath := os.Getenv("AUTH_PRIVATE_KEY_PATH")
	publicKeyPath := os.Getenv("JWT_PUBLIC_KEY_PATH")
	if privateKeyPath == "" || publicKeyPath == "" {
		logger.Error("AUTH_PRIVATE_KEY_PATH and JWT_PUBLIC_KEY_PATH must be set")
		os.Exit(1)
	}

	privateKeyPEM, err := os.ReadFile(privateKeyPath)
	if err != nil {
		logger.Error("Failed to read private key", "path", privateKeyPath, "error", err)
		os.Exit(1)
	}
	publicKeyPEM, err := os.ReadFile(publicKeyPath)
	if err != nil {
		logger.Error("Failed to read public key", "path", publicKeyPath, "error", err)
		os.Exit(1)
	}

	signer, err := auth.NewSigner(privateKeyPEM, publicKeyPEM, os.Getenv("JWT_ISSUER"))
	if err != nil {
		logger.Error("Failed to create signer", "error", err)
		os.Exit(1)
	}

	// 2. Resolve the subject
	userID := uuid.New()
	if *userFlag != "" {
		if userID, err = uuid.Parse(*userFlag); err != nil {
			logger.Error("Invalid user ID", "user", *userFlag, "error", err)
			os.Exit(1)
		}
	}

	// 3. Sign
	token, err := signer.GenerateToken(userID, *name, *ttl)
	if err != nil {
		logger.Error("Failed to generate token", "error", err)
		os.Exit(1)
	}

	logger.Info("Token issued", "user_id", userID, "expires_in", ttl.String())
	fmt.Println(token)
}
