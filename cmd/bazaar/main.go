// Command bazaar runs the messaging server.
//
//	bazaar                 serve HTTP (default)
//	bazaar keygen          print a fresh v4.public key pair as env lines
//	bazaar token <userID>  mint a dev access token with BAZAAR_AUTH_SECRET_KEY_HEX
package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"bazaar/cmd/internal/app"
	"bazaar/cmd/internal/auth"
)

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load(".env")

	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "serve" {
		return app.Run()
	}

	switch args[0] {
	case "keygen":
		secret, public := auth.GenerateKeyHex()
		fmt.Printf("BAZAAR_AUTH_SECRET_KEY_HEX=%s\nBAZAAR_AUTH_PUBLIC_KEY_HEX=%s\n", secret, public)
		return nil
	case "token":
		if len(args) != 2 {
			return errors.New("usage: bazaar token <userID>")
		}
		uid, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || uid <= 0 {
			return fmt.Errorf("invalid user id %q", args[1])
		}
		iss, err := auth.NewPasetoIssuer(app.LoadConfig().AuthConfig())
		if err != nil {
			return err
		}
		tok, exp, err := iss.Issue(uid, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
		fmt.Println(tok)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
