// Package main provides a command line client for entities described in a
// datamapper YAML config.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/latolukasz/datamapper"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "datamapper",
		Short:        "Query entities registered in a datamapper config",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "datamapper.yaml", "YAML config with pools and entities")
	rootCmd.PersistentFlags().Bool("debug", false, "Log every query")

	findCmd := &cobra.Command{
		Use:   "find [entity] [id]",
		Short: "Print one entity by id",
		Args:  cobra.ExactArgs(2),
		RunE:  runFind,
	}
	rootCmd.AddCommand(findCmd)

	findAllCmd := &cobra.Command{
		Use:   "find-all [entity]",
		Short: "Print entities matching conditions",
		Args:  cobra.ExactArgs(1),
		RunE:  runFindAll,
	}
	findAllCmd.Flags().StringArray("where", nil, "Condition as key=value, key may carry an operator like age[>]")
	findAllCmd.Flags().Int("limit", 0, "Maximum number of entities")
	findAllCmd.Flags().Int("offset", 0, "Number of entities to skip")
	findAllCmd.Flags().StringArray("order", nil, "Sort field, prefix with - for descending")
	rootCmd.AddCommand(findAllCmd)

	countCmd := &cobra.Command{
		Use:   "count [entity]",
		Short: "Print the number of entities matching conditions",
		Args:  cobra.ExactArgs(1),
		RunE:  runCount,
	}
	countCmd.Flags().StringArray("where", nil, "Condition as key=value")
	rootCmd.AddCommand(countCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openManager(cmd *cobra.Command) (*datamapper.EntityManager, func(), error) {
	configFile, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, nil, err
	}
	registry := datamapper.NewRegistry()
	if err = registry.InitByYaml(data); err != nil {
		return nil, nil, err
	}
	engine, err := registry.Validate()
	if err != nil {
		return nil, nil, err
	}
	m := engine.NewEntityManager(context.Background())
	if debug {
		m.EnableQueryDebug()
	}
	return m, func() {
		_ = engine.Close()
	}, nil
}

func parseWhere(values []string) (map[string]any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	conditions := make(map[string]any, len(values))
	for _, value := range values {
		key, v, found := strings.Cut(value, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid condition '%s', expected key=value", value)
		}
		if v == "null" {
			conditions[key] = nil
			continue
		}
		if strings.Contains(v, ",") {
			list := make([]any, 0)
			for _, item := range strings.Split(v, ",") {
				list = append(list, item)
			}
			conditions[key] = list
			continue
		}
		conditions[key] = v
	}
	return conditions, nil
}

func printJSON(value any) error {
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runFind(cmd *cobra.Command, args []string) error {
	m, closeEngine, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer closeEngine()
	e, err := m.FindByID(args[0], args[1])
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("%s [%s] not found", args[0], args[1])
	}
	return printJSON(e)
}

func runFindAll(cmd *cobra.Command, args []string) error {
	where, _ := cmd.Flags().GetStringArray("where")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	order, _ := cmd.Flags().GetStringArray("order")
	conditions, err := parseWhere(where)
	if err != nil {
		return err
	}
	m, closeEngine, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer closeEngine()
	criteria := datamapper.NewCriteria(conditions)
	criteria.Limit = limit
	criteria.Offset = offset
	for _, field := range order {
		criteria.OrderBy(strings.TrimPrefix(field, "-"), strings.HasPrefix(field, "-"))
	}
	collection, err := m.FindAll(args[0], criteria)
	if err != nil {
		return err
	}
	return printJSON(collection)
}

func runCount(cmd *cobra.Command, args []string) error {
	where, _ := cmd.Flags().GetStringArray("where")
	conditions, err := parseWhere(where)
	if err != nil {
		return err
	}
	m, closeEngine, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer closeEngine()
	total, err := m.Count(args[0], datamapper.NewCriteria(conditions))
	if err != nil {
		return err
	}
	fmt.Println(total)
	return nil
}
