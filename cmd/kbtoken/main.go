// Command kbtoken mints bearer tokens for the kbhistory API.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"kbhistory/internal/auth"
	"kbhistory/internal/config"
	"kbhistory/internal/rbac"
)

func main() {
	name := flag.String("name", "", "display name recorded as version author")
	subject := flag.String("sub", "", "subject id (defaults to name)")
	role := flag.String("role", string(rbac.RoleViewer), "viewer, editor or admin")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "kbtoken: -name is required")
		os.Exit(2)
	}
	if rbac.Normalize(*role) != rbac.Role(*role) {
		fmt.Fprintf(os.Stderr, "kbtoken: unknown role %q\n", *role)
		os.Exit(2)
	}
	if *subject == "" {
		*subject = *name
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	token, claims, err := auth.NewToken([]byte(cfg.JWTSecret), *subject, *name, *role, *ttl)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(token)
	log.Printf("issued token jti=%s for %s (%s) expiring %s", claims.JTI, claims.Name, claims.Role, time.Unix(claims.Exp, 0).UTC().Format(time.RFC3339))
}
