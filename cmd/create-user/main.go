// CLI tool to create a user with a bcrypt-hashed password and an empty profile,
// or to change an existing user's subscription tier.
// Usage: go run ./cmd/create-user [-premium]
//
//	go run ./cmd/create-user -set-subscription alice=premium
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	premium := flag.Bool("premium", false, "create the user on the premium tier")
	setSubscription := flag.String("set-subscription", "", "change an existing user's tier, as username=free|premium")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, os.Getenv("DB_URL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close(ctx)

	if *setSubscription != "" {
		username, status, err := parseSubscriptionArg(*setSubscription)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -set-subscription: %v\n", err)
			os.Exit(1)
		}
		tag, err := conn.Exec(ctx,
			`UPDATE user_profiles p SET subscription_status = $1, updated_at = now()
			 FROM users u WHERE u.id = p.user_id AND u.username = $2`,
			status, username)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error updating subscription: %v\n", err)
			os.Exit(1)
		}
		if tag.RowsAffected() == 0 {
			fmt.Fprintf(os.Stderr, "No profile found for %q\n", username)
			os.Exit(1)
		}
		fmt.Printf("%s is now on the %s tier\n", username, status)
		return
	}

	reader := bufio.NewReader(os.Stdin)
	username := prompt(reader, "Username")
	email := prompt(reader, "Email")
	password := prompt(reader, "Password")
	name := prompt(reader, "Display name")
	timezone := prompt(reader, "Timezone (IANA, blank for UTC)")

	if username == "" || password == "" {
		fmt.Fprintln(os.Stderr, "Username and password are required")
		os.Exit(1)
	}
	timezone, err = normalizeTimezone(timezone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid timezone: %v\n", err)
		os.Exit(1)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error hashing password: %v\n", err)
		os.Exit(1)
	}

	authToken := uuid.New().String()

	tx, err := conn.Begin(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting transaction: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var userID int
	err = tx.QueryRow(ctx,
		`INSERT INTO users (username, email, password, auth_token)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		username, email, string(hash), authToken,
	).Scan(&userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating user: %v\n", err)
		os.Exit(1)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO user_profiles (user_id, name, timezone, subscription_status)
		 VALUES ($1, $2, $3, $4)`,
		userID, name, timezone, subscriptionFor(*premium))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating profile: %v\n", err)
		os.Exit(1)
	}

	if err := tx.Commit(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error committing: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nUser created successfully!\n")
	fmt.Printf("  ID:         %d\n", userID)
	fmt.Printf("  Username:   %s\n", username)
	fmt.Printf("  Timezone:   %s\n", timezone)
	fmt.Printf("  Tier:       %s\n", subscriptionFor(*premium))
	fmt.Printf("  Auth Token: %s\n", authToken)
}

func prompt(r *bufio.Reader, label string) string {
	fmt.Printf("%s: ", label)
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}

// normalizeTimezone defaults blank input to UTC and rejects names unknown to
// the tz database.
func normalizeTimezone(tz string) (string, error) {
	if tz == "" {
		return "UTC", nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", err
	}
	return tz, nil
}

func subscriptionFor(premium bool) string {
	if premium {
		return "premium"
	}
	return "free"
}

// parseSubscriptionArg splits a username=tier argument. The tier must be
// free or premium.
func parseSubscriptionArg(arg string) (username, status string, err error) {
	username, status, ok := strings.Cut(arg, "=")
	username, status = strings.TrimSpace(username), strings.TrimSpace(status)
	if !ok || username == "" {
		return "", "", errors.New("expected username=free|premium")
	}
	if status != "free" && status != "premium" {
		return "", "", fmt.Errorf("unknown tier %q", status)
	}
	return username, status, nil
}
