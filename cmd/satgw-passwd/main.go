package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/crypto"
)

// satgw-passwd prints a bcrypt hash for admin.password_hash
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		log.Fatal().Msg("stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read password")
	}

	fmt.Fprint(os.Stderr, "Confirm: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read password")
	}

	if !bytes.Equal(first, second) {
		log.Fatal().Msg("Passwords do not match")
	}

	hash, err := crypto.HashPassword(string(first))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}
	fmt.Println(hash)
}
