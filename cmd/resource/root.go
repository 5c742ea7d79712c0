package resource

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jacentio/arbor/cmd/util"
	"github.com/jacentio/arbor/hierarchy"
	"github.com/jacentio/arbor/store"
)

var (
	coordinator *hierarchy.Coordinator

	// ResourceCommands represents the resource command group
	ResourceCommands = &cobra.Command{
		Use:   "resource",
		Short: "Perform resource operations along a configured path",
		Long: `Perform resource operations along a configured path.

Item commands (create, get, update, delete) take one id per level of the
path, root first. Collection commands (list, find) take one id per ancestor
level and return the children of the last one.`,
		PersistentPreRunE: setupCoordinator,
	}

	// createCmd represents the create command
	createCmd = &cobra.Command{
		Use:   "create [id...] --data JSON",
		Short: "Create a resource and link it to its parent",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCreate,
	}

	// getCmd represents the get command
	getCmd = &cobra.Command{
		Use:   "get [id...]",
		Short: "Get a resource",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runGet,
	}

	// listCmd represents the list command
	listCmd = &cobra.Command{
		Use:   "list [id...]",
		Short: "List the children of a resource",
		RunE:  runList,
	}

	// findCmd represents the find command
	findCmd = &cobra.Command{
		Use:   "find [id...] (--match JSON | --expr EXPR)",
		Short: "List the children of a resource that match a filter",
		RunE:  runFind,
	}

	// updateCmd represents the update command
	updateCmd = &cobra.Command{
		Use:   "update [id...] (--set JSON | --raw JSON)",
		Short: "Update a resource",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runUpdate,
	}

	// deleteCmd represents the delete command
	deleteCmd = &cobra.Command{
		Use:   "delete [id...]",
		Short: "Delete a resource and unlink it from its parent",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDelete,
	}
)

func init() {
	ResourceCommands.AddCommand(createCmd)
	ResourceCommands.AddCommand(getCmd)
	ResourceCommands.AddCommand(listCmd)
	ResourceCommands.AddCommand(findCmd)
	ResourceCommands.AddCommand(updateCmd)
	ResourceCommands.AddCommand(deleteCmd)

	util.SetupStoreFlags(ResourceCommands)
	ResourceCommands.PersistentFlags().String("path", "", util.WrapString("Name of the configured path to operate on. May be omitted when only one path is configured"))

	createCmd.Flags().String("data", "-", util.WrapString("Resource fields as a JSON object, or - to read from stdin"))
	findCmd.Flags().String("match", "", util.WrapString("JSON object of field values that must all be equal"))
	findCmd.Flags().String("expr", "", util.WrapString(`Boolean expression over the resource fields, e.g. status == "active"`))
	findCmd.MarkFlagsMutuallyExclusive("match", "expr")
	updateCmd.Flags().String("set", "", util.WrapString("JSON object of top-level fields to replace"))
	updateCmd.Flags().String("raw", "", util.WrapString(`JSON object of operator clauses, e.g. {"SET": {"a.b": 1}, "REMOVE": {"c": null}}`))
	updateCmd.MarkFlagsMutuallyExclusive("set", "raw")
	updateCmd.MarkFlagsOneRequired("set", "raw")
	deleteCmd.Flags().Bool("orphan-protect", false, util.WrapString("Refuse to delete a resource that still has children"))
}

// setupCoordinator initializes the coordinator for the selected path
func setupCoordinator(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	logger, err := util.GetLogger()
	if err != nil {
		return err
	}
	registry, err := util.LoadRegistry(viper.GetViper())
	if err != nil {
		return err
	}
	path, err := util.GetPath(registry, viper.GetString("path"))
	if err != nil {
		return err
	}
	s, err := util.NewStore(cmd.Context(), logger)
	if err != nil {
		return err
	}

	coordinator, err = hierarchy.New(s, path, hierarchy.WithLogger(logger))
	return err
}

// runCreate handles the create command
func runCreate(cmd *cobra.Command, args []string) error {
	var fields map[string]any
	if err := util.ReadJSON(viper.GetString("data"), os.Stdin, &fields); err != nil {
		return err
	}

	doc, err := coordinator.Create(cmd.Context(), args, store.Document(fields))
	if err != nil {
		return err
	}
	return util.PrintJSON(os.Stdout, doc)
}

// runGet handles the get command
func runGet(cmd *cobra.Command, args []string) error {
	doc, err := coordinator.Get(cmd.Context(), args)
	if err != nil {
		return err
	}
	return util.PrintJSON(os.Stdout, doc)
}

// runList handles the list command
func runList(cmd *cobra.Command, args []string) error {
	docs, err := coordinator.GetAll(cmd.Context(), args)
	if err != nil {
		return err
	}
	return util.PrintJSON(os.Stdout, nonNil(docs))
}

// runFind handles the find command
func runFind(cmd *cobra.Command, args []string) error {
	filter, err := parseFilter(viper.GetString("match"), viper.GetString("expr"))
	if err != nil {
		return err
	}

	docs, err := coordinator.Find(cmd.Context(), args, filter)
	if err != nil {
		return err
	}
	return util.PrintJSON(os.Stdout, nonNil(docs))
}

// runUpdate handles the update command
func runUpdate(cmd *cobra.Command, args []string) error {
	u, err := parseUpdate(viper.GetString("set"), viper.GetString("raw"))
	if err != nil {
		return err
	}

	doc, err := coordinator.Update(cmd.Context(), args, u)
	if err != nil {
		return err
	}
	return util.PrintJSON(os.Stdout, doc)
}

// runDelete handles the delete command
func runDelete(cmd *cobra.Command, args []string) error {
	var opts []hierarchy.DeleteOption
	if viper.GetBool("orphan-protect") {
		opts = append(opts, hierarchy.WithOrphanProtect())
	}

	if err := coordinator.Delete(cmd.Context(), args, opts...); err != nil {
		return err
	}
	fmt.Printf("deleted=true\n")
	return nil
}

// parseFilter builds the find filter. With neither flag set every child
// matches.
func parseFilter(match, expression string) (hierarchy.Filter, error) {
	switch {
	case expression != "":
		return hierarchy.Expr(expression)
	case match != "":
		var fields map[string]any
		if err := util.ReadJSON(match, os.Stdin, &fields); err != nil {
			return nil, err
		}
		return hierarchy.Match(fields), nil
	}
	return nil, nil
}

// parseUpdate decodes --set or --raw. JSON arrays of strings in ADD and
// DELETE clauses become string sets.
func parseUpdate(set, raw string) (store.Update, error) {
	if set != "" {
		var fields store.FieldSet
		if err := util.ReadJSON(set, os.Stdin, &fields); err != nil {
			return nil, err
		}
		return fields, nil
	}

	var op store.RawOperator
	if err := util.ReadJSON(raw, os.Stdin, &op); err != nil {
		return nil, err
	}
	for _, name := range []store.Operator{store.OpAdd, store.OpDeleteMembers} {
		for path, v := range op[name] {
			if set, ok := stringSet(v); ok {
				op[name][path] = set
			}
		}
	}
	return op, nil
}

func stringSet(v any) (store.StringSet, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	set := make(store.StringSet, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		set = append(set, s)
	}
	return set, true
}

func nonNil(docs []store.Document) []store.Document {
	if docs == nil {
		return []store.Document{}
	}
	return docs
}
