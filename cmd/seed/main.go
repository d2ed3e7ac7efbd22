package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/alphabot-ai/threadline/internal/auth"
	"github.com/alphabot-ai/threadline/internal/client"
	"github.com/alphabot-ai/threadline/internal/model"
	"github.com/alphabot-ai/threadline/internal/store/memory"
)

var users = []struct {
	username string
	email    string
}{
	{"ada", "ada@example.com"},
	{"grace", "grace@example.com"},
	{"linus", "linus@example.com"},
	{"barbara", "barbara@example.com"},
	{"ken", "ken@example.com"},
}

var topics = []string{
	"Has anyone tried running the test suite against the new backend?",
	"Proposal: nested replies should collapse after five levels.",
	"What is everyone using for local development databases these days?",
	"Release notes for this week are up, feedback welcome.",
}

var replies = []string{
	"Agreed, this matches what I saw.",
	"I'm not convinced. Do we have numbers?",
	"Tried it yesterday and it works for me.",
	"Can you share a reproduction?",
	"+1, would love to see this land.",
	"This broke my setup, rolling back for now.",
	"Good catch. Filed an issue.",
	"Following this thread.",
}

type seeder struct {
	username string
	api      *client.Client
	session  *auth.Manager
}

func main() {
	baseURL := flag.String("url", "http://127.0.0.1:8000", "API base URL")
	password := flag.String("password", "threadline-demo", "Password for every demo account")
	depth := flag.Int("depth", 3, "Maximum reply depth per thread")
	flag.Parse()

	ctx := context.Background()
	log.Printf("Seeding %s...\n", *baseURL)

	api := client.New(*baseURL)

	var seeders []*seeder
	for _, u := range users {
		s := &seeder{username: u.username, api: api, session: auth.New(api, memory.New(), 0)}

		_, err := s.session.Register(ctx, model.Registration{Username: u.username, Email: u.email, Password: *password})
		switch {
		case err == nil:
			log.Printf("✓ Registered %s", u.username)
		case errors.Is(err, auth.ErrLoginAfterRegistration):
			log.Fatalf("registered %s but could not log in: %v", u.username, err)
		default:
			// Most likely the account exists from an earlier run.
			if err := s.session.Login(ctx, model.Credentials{Username: u.username, Password: *password}); err != nil {
				log.Fatalf("register or login %s: %v", u.username, err)
			}
			log.Printf("✓ Logged in %s", u.username)
		}
		seeders = append(seeders, s)
	}

	var roots, posted int
	for _, text := range topics {
		author := seeders[rand.Intn(len(seeders))]
		root, err := author.post(ctx, text, nil)
		if err != nil {
			log.Printf("✗ Failed to post topic: %v", err)
			continue
		}
		roots++
		log.Printf("✓ Thread #%d (by %s)", root.ID, author.username)

		parents := []*model.Comment{root}
		levels := map[int64]int{root.ID: 0}
		n := rand.Intn(6) + 3
		for i := 0; i < n; i++ {
			parent := parents[rand.Intn(len(parents))]
			replier := seeders[rand.Intn(len(seeders))]

			reply, err := replier.post(ctx, replies[rand.Intn(len(replies))], &parent.ID)
			if err != nil {
				log.Printf("✗ Failed to reply: %v", err)
				continue
			}
			posted++
			levels[reply.ID] = levels[parent.ID] + 1
			if levels[reply.ID] < *depth {
				parents = append(parents, reply)
			}
			log.Printf("  ↳ Reply #%d to #%d (by %s)", reply.ID, parent.ID, replier.username)

			// Spread out created_at so ordering is visible.
			time.Sleep(50 * time.Millisecond)
		}
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Printf("Users:    %d\n", len(seeders))
	fmt.Printf("Threads:  %d\n", roots)
	fmt.Printf("Replies:  %d\n", posted)
	fmt.Println("\nWatch one with: threadline watch --thread <id>")
}

func (s *seeder) post(ctx context.Context, text string, parent *int64) (*model.Comment, error) {
	tok, err := s.session.GetValidAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return s.api.PostComment(ctx, tok, text, parent, nil)
}
