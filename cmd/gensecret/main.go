// Command gensecret prints a random secret key for parcelguard.
//
// With --role it prints an access token for an actor of that role instead,
// signed with the actor key derived from --secret-key. Useful for local runs
// without the platform that issues tokens in production.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/parcelguard/internal/models"
	"github.com/nkiryanov/parcelguard/internal/service/actor"
	"github.com/nkiryanov/parcelguard/internal/service/signer"
)

// Must match HKDF info used by the server
const actorKeyInfo = "parcelguard/actor-jwt/v1"

func main() {
	if err := run(os.Args[1:], os.Stdout, rand.Reader); err != nil {
		fmt.Fprintf(os.Stderr, "gensecret: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, random io.Reader) error {
	fs := pflag.NewFlagSet("gensecret", pflag.ContinueOnError)

	length := fs.IntP("length", "n", signer.MinSecretLen, "Secret key length in random bytes")
	role := fs.String("role", "", "Print access token for actor with this role instead of secret")
	secret := fs.StringP("secret-key", "s", os.Getenv("SECRET_KEY"), "Secret key the server runs with")
	ttl := fs.Duration("ttl", time.Hour, "Access token lifetime")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *role != "" {
		token, err := accessToken(*secret, *role, *ttl)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, token)
		return err
	}

	if *length < signer.MinSecretLen {
		return fmt.Errorf("length must be at least %d bytes", signer.MinSecretLen)
	}

	b := make([]byte, *length)
	if _, err := io.ReadFull(random, b); err != nil {
		return fmt.Errorf("error while generating secret key: %w", err)
	}

	_, err := fmt.Fprintln(out, base64.RawURLEncoding.EncodeToString(b))
	return err
}

func accessToken(secret string, role string, ttl time.Duration) (string, error) {
	key, err := signer.DeriveKey(secret, actorKeyInfo)
	if err != nil {
		return "", err
	}

	tm, err := actor.New(actor.Config{SecretKey: string(key), AccessTTL: ttl})
	if err != nil {
		return "", err
	}

	return tm.Issue(models.Actor{ID: uuid.New(), Role: role})
}
