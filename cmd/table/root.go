package table

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jacentio/arbor/cmd/util"
	"github.com/jacentio/arbor/hierarchy"
	"github.com/jacentio/arbor/store/dynamo"
)

var (
	// TableCommands represents the table command group
	TableCommands = &cobra.Command{
		Use:               "table",
		Short:             "Provision DynamoDB tables",
		PersistentPreRunE: setupTable,
	}

	// ensureCmd represents the ensure command
	ensureCmd = &cobra.Command{
		Use:   "ensure",
		Short: "Create the lock table and every table named by the configured paths",
		Long: `Create the lock table and one table per collection of every configured
path. Existing tables are left in place. The lock table gets TTL enabled on
the "ttl" attribute so abandoned locks are reaped.`,
		Args: cobra.NoArgs,
		RunE: runEnsure,
	}
)

func init() {
	TableCommands.AddCommand(ensureCmd)

	util.SetupStoreFlags(TableCommands)

	ensureCmd.Flags().Bool("stream", false, util.WrapString("Enable a NEW_AND_OLD_IMAGES stream on the resource tables"))
	ensureCmd.Flags().Duration("wait-timeout", 0, util.WrapString("How long to wait for each table to become active (default 2m)"))
}

// setupTable binds the command flags
func setupTable(cmd *cobra.Command, _ []string) error {
	return util.BindCommandFlags(cmd)
}

// runEnsure handles the ensure command
func runEnsure(cmd *cobra.Command, _ []string) error {
	logger, err := util.GetLogger()
	if err != nil {
		return err
	}
	s, err := util.NewStore(cmd.Context(), logger)
	if err != nil {
		return err
	}
	registry, err := util.LoadRegistry(viper.GetViper())
	if err != nil {
		return err
	}

	wait := viper.GetDuration("wait-timeout")
	lockCollection := viper.GetString("lock-collection")

	if err := s.EnsureCollection(cmd.Context(), lockCollection, dynamo.TableOptions{
		TTL:         true,
		Stream:      viper.GetBool("stream"),
		WaitTimeout: wait,
	}); err != nil {
		return err
	}
	fmt.Printf("table=%s, ttl=true\n", s.Config().TableName(lockCollection))

	for _, collection := range collections(registry) {
		if err := s.EnsureCollection(cmd.Context(), collection, dynamo.TableOptions{
			Stream:      viper.GetBool("stream"),
			WaitTimeout: wait,
		}); err != nil {
			return err
		}
		fmt.Printf("table=%s, stream=%v\n", s.Config().TableName(collection), viper.GetBool("stream"))
	}
	return nil
}

// collections returns every collection named by the registered paths, once,
// sorted.
func collections(registry *hierarchy.Registry) []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range registry.Names() {
		p, _ := registry.Get(name)
		for _, l := range p.Levels {
			if !seen[l.Collection] {
				seen[l.Collection] = true
				out = append(out, l.Collection)
			}
		}
	}
	sort.Strings(out)
	return out
}
