package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/kozaktomas/facepay/internal/config"
	"github.com/kozaktomas/facepay/internal/database"
	"github.com/kozaktomas/facepay/internal/database/postgres"
	"github.com/spf13/cobra"
)

var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "Manage enrolled identities",
	Long:  "List, inspect and delete identities stored in the enrollment database.",
}

var identitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities",
	Args:  cobra.NoArgs,
	RunE:  runIdentitiesList,
}

var identitiesShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Show the reference embeddings of an identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentitiesShow,
}

var identitiesDeleteCmd = &cobra.Command{
	Use:   "delete <user-id>",
	Short: "Delete an identity and all of its embeddings",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentitiesDelete,
}

func init() {
	rootCmd.AddCommand(identitiesCmd)
	identitiesCmd.AddCommand(identitiesListCmd)
	identitiesCmd.AddCommand(identitiesShowCmd)
	identitiesCmd.AddCommand(identitiesDeleteCmd)

	identitiesListCmd.Flags().Bool("json", false, "Output as JSON")
}

// openIdentityStore connects to the enrollment database.
func openIdentityStore(cmd *cobra.Command) (*postgres.IdentityRepository, func(), error) {
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return nil, nil, errors.New("DATABASE_URL environment variable is required")
	}
	pool, err := postgres.Open(cmd.Context(), &cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewIdentityRepository(pool), func() { pool.Close() }, nil
}

type identityListItem struct {
	UserID     string `json:"user_id"`
	Name       string `json:"name,omitempty"`
	Embeddings int    `json:"embeddings"`
	EnrolledAt string `json:"enrolled_at"`
}

func runIdentitiesList(cmd *cobra.Command, args []string) error {
	store, closeStore, err := openIdentityStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	identities, err := store.ListIdentities(cmd.Context(), "")
	if err != nil {
		return err
	}

	items := make([]identityListItem, 0, len(identities))
	for _, identity := range identities {
		items = append(items, identityListItem{
			UserID:     identity.UserID,
			Name:       identity.Name,
			Embeddings: len(identity.Embeddings),
			EnrolledAt: identity.EnrolledAt.Format("2006-01-02 15:04:05"),
		})
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	if len(items) == 0 {
		fmt.Println("No identities enrolled")
		return nil
	}
	fmt.Printf("%-24s %-30s %10s  %s\n", "USER ID", "NAME", "EMBEDDINGS", "ENROLLED")
	for _, item := range items {
		fmt.Printf("%-24s %-30s %10d  %s\n", item.UserID, item.Name, item.Embeddings, item.EnrolledAt)
	}
	fmt.Printf("\nTotal: %d identities\n", len(items))
	return nil
}

func runIdentitiesShow(cmd *cobra.Command, args []string) error {
	store, closeStore, err := openIdentityStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	rows, err := store.ListEmbeddings(cmd.Context(), args[0])
	if errors.Is(err, database.ErrIdentityNotFound) {
		return fmt.Errorf("identity %s is not enrolled", args[0])
	}
	if err != nil {
		return err
	}

	fmt.Printf("Identity %s: %d reference embeddings\n", args[0], len(rows))
	for _, row := range rows {
		fmt.Printf("  #%d  model=%s dim=%d created=%s\n", row.ID, row.Model, row.Dim, row.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runIdentitiesDelete(cmd *cobra.Command, args []string) error {
	store, closeStore, err := openIdentityStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.DeleteIdentity(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, database.ErrIdentityNotFound) {
			return fmt.Errorf("identity %s is not enrolled", args[0])
		}
		return err
	}
	fmt.Printf("Deleted identity %s\n", args[0])
	fmt.Println("Running servers keep it cached until POST /api/v1/identities/reload")
	return nil
}
