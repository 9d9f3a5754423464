package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

// ticketCmd resolves a ticket through the daemon's tracker
var ticketCmd = &cobra.Command{
	Use:   "ticket <ref>",
	Short: "Resolve a ticket through the configured tracker",
	Long: `Resolve a ticket reference through the daemon's configured tracker
and print it. GitHub refs ("owner/repo#45") are escaped automatically.

Examples:
  # A Jira-style ticket
  sdlc ticket PROJ-123

  # A GitHub issue
  sdlc ticket fyrsmithlabs/sdlcd#45`,
	Args: cobra.ExactArgs(1),
	RunE: runTicket,
}

// runTicket handles the ticket command
func runTicket(cmd *cobra.Command, args []string) error {
	var ticket Ticket
	endpoint := fmt.Sprintf("%s/api/v1/tickets/%s", serverURL, url.PathEscape(args[0]))
	if err := getJSON(endpoint, &ticket); err != nil {
		return err
	}

	fmt.Printf("ID:    %s\n", ticket.ID)
	fmt.Printf("Title: %s\n", ticket.Title)
	if ticket.RepoRef != "" {
		fmt.Printf("Repo:  %s\n", ticket.RepoRef)
	}
	if ticket.Description != "" {
		fmt.Printf("\n%s\n", ticket.Description)
	}
	if len(ticket.AcceptanceCriteria) > 0 {
		fmt.Println("\nAcceptance criteria:")
		for _, ac := range ticket.AcceptanceCriteria {
			fmt.Printf("  - %s\n", ac)
		}
	}

	return nil
}
