// Command devtoken mints bearer tokens for local development.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/workbridge/escrow/internal/auth"
)

func main() {
	fs := pflag.NewFlagSet("devtoken", pflag.ExitOnError)
	user := fs.StringP("user", "u", "", "User id placed in the sub claim")
	admin := fs.Bool("admin", false, "Grant the admin role")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	secret := fs.String("secret", os.Getenv("JWT_SECRET"), "Signing secret, defaults to JWT_SECRET")
	_ = fs.Parse(os.Args[1:])

	if *user == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "usage: devtoken --user <id> [--admin] [--ttl 1h] [--secret <jwt secret>]")
		os.Exit(2)
	}

	p := auth.Principal{UserID: *user, Role: auth.RoleUser}
	if *admin {
		p.Role = auth.RoleAdmin
	}
	token, err := auth.Issue(*secret, p, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
