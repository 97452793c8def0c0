// Command adaptdb demonstrates adaptive query execution: it registers a few
// tables, runs a join pipeline, and prints the executed plan with stage
// boundaries and the measured sizes that drove the runtime join choices.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"adaptdb/catalog"
	"adaptdb/core"
	"adaptdb/engine"
	"adaptdb/plan"
)

var (
	shufflePartitions int
	adaptiveThreshold int64
	staticThreshold   int64
	disableAdaptive   bool
	verbose           bool
	parquetTables     []string
)

var rootCmd = &cobra.Command{
	Use:          "adaptdb",
	Short:        "adaptive query execution demo engine",
	SilenceUsage: true,
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "runs a three-table join under adaptive execution and explains the result",
	RunE:  runDemo,
}

func init() {
	rootCmd.PersistentFlags().IntVar(&shufflePartitions, "shuffle-partitions", 4,
		"partition count for inserted shuffles")
	rootCmd.PersistentFlags().Int64Var(&adaptiveThreshold, "adaptive-broadcast-threshold", 10*1024*1024,
		"broadcast a join side when its measured size is at most this many bytes (-1 disables)")
	rootCmd.PersistentFlags().Int64Var(&staticThreshold, "auto-broadcast-threshold", engine.DisabledThreshold,
		"broadcast a join side when its estimated size is at most this many bytes (-1 disables)")
	rootCmd.PersistentFlags().BoolVar(&disableAdaptive, "no-adaptive", false,
		"run without stage boundaries or runtime rewrites")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")
	demoCmd.Flags().StringSliceVar(&parquetTables, "parquet", nil,
		"register name=path parquet tables instead of the built-in sample data")
	rootCmd.AddCommand(demoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDemo(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	cat := catalog.NewCatalog(log)
	if len(parquetTables) > 0 {
		if err := registerParquet(cat, parquetTables); err != nil {
			return err
		}
	} else {
		registerSampleTables(cat)
	}

	cfg := engine.Config{
		AdaptiveExecutionEnabled:       !disableAdaptive,
		ShufflePartitions:              shufflePartitions,
		AutoBroadcastJoinThreshold:     staticThreshold,
		AdaptiveBroadcastJoinThreshold: adaptiveThreshold,
	}
	eng, err := engine.New(cfg, cat, log)
	if err != nil {
		return err
	}

	p, err := demoPlan(cat)
	if err != nil {
		return err
	}
	fmt.Println("plan before execution:")
	fmt.Println(plan.Explain(p))

	result, err := eng.Execute(context.Background(), p)
	if err != nil {
		return err
	}

	fmt.Println("plan after execution:")
	fmt.Println(result.Explain())
	fmt.Printf("sort-merge joins: %d, broadcast joins: %d, stage inputs: %d\n",
		result.OperatorCount(plan.KindSortMergeJoin),
		result.OperatorCount(plan.KindBroadcastHashJoin),
		result.OperatorCount(plan.KindQueryStageInput))
	fmt.Printf("result: %d rows, columns %v\n", len(result.Rows), result.Schema.ColumnNames())
	for i, row := range result.Rows {
		if i == 10 {
			fmt.Printf("... %d more rows\n", len(result.Rows)-10)
			break
		}
		fmt.Println(row)
	}
	return nil
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func registerParquet(cat *catalog.Catalog, specs []string) error {
	for _, s := range specs {
		name, path, ok := splitTableSpec(s)
		if !ok {
			return fmt.Errorf("invalid --parquet value %q, want name=path", s)
		}
		if err := cat.RegisterParquetTable(name, path); err != nil {
			return err
		}
	}
	return nil
}

func splitTableSpec(s string) (name, path string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], i > 0 && i < len(s)-1
		}
	}
	return "", "", false
}

// registerSampleTables sets up a large fact table and two small dimension
// tables, sized so only the dimensions fall under the default thresholds.
func registerSampleTables(cat *catalog.Catalog) {
	ordersSchema := core.Schema{
		{Name: "order_id", Type: core.TypeInt64},
		{Name: "customer_id", Type: core.TypeInt64},
		{Name: "region_id", Type: core.TypeInt64},
		{Name: "amount", Type: core.TypeFloat64},
	}
	orders := make([]core.Row, 0, 20000)
	for i := 0; i < 20000; i++ {
		orders = append(orders, core.Row{
			int64(i), int64(i % 500), int64(i % 8), float64(i%997) + 0.5,
		})
	}
	cat.RegisterTable("orders", core.NewMemTable(ordersSchema, orders, 4096), nil)

	customersSchema := core.Schema{
		{Name: "customer_id", Type: core.TypeInt64},
		{Name: "customer_name", Type: core.TypeString},
	}
	customers := make([]core.Row, 0, 500)
	for i := 0; i < 500; i++ {
		customers = append(customers, core.Row{int64(i), fmt.Sprintf("customer-%03d", i)})
	}
	cat.RegisterTable("customers", core.NewMemTable(customersSchema, customers, 0), nil)

	regionsSchema := core.Schema{
		{Name: "region_id", Type: core.TypeInt64},
		{Name: "region_name", Type: core.TypeString},
	}
	regions := []core.Row{
		{int64(0), "north"}, {int64(1), "south"}, {int64(2), "east"}, {int64(3), "west"},
		{int64(4), "northeast"}, {int64(5), "northwest"}, {int64(6), "southeast"}, {int64(7), "southwest"},
	}
	cat.RegisterTable("regions", core.NewMemTable(regionsSchema, regions, 0), nil)
}

// demoPlan joins orders with customers and regions, filtering to one
// region first.
func demoPlan(cat *catalog.Catalog) (plan.Node, error) {
	orders, err := cat.Table("orders")
	if err != nil {
		return nil, err
	}
	customers, err := cat.Table("customers")
	if err != nil {
		return nil, err
	}
	regions, err := cat.Table("regions")
	if err != nil {
		return nil, err
	}

	filtered := &plan.Filter{
		Input: plan.NewScan("orders", orders.Schema()),
		Pred:  plan.Predicate{Column: "region_id", Op: plan.OpLt, Value: int64(4)},
	}
	withCustomers := &plan.SortMergeJoin{
		Left:      filtered,
		Right:     plan.NewScan("customers", customers.Schema()),
		LeftKeys:  []string{"customer_id"},
		RightKeys: []string{"customer_id"},
		Type:      plan.InnerJoin,
	}
	withRegions := &plan.SortMergeJoin{
		Left:      withCustomers,
		Right:     plan.NewScan("regions", regions.Schema()),
		LeftKeys:  []string{"region_id"},
		RightKeys: []string{"region_id"},
		Type:      plan.InnerJoin,
	}
	return &plan.Project{
		Input:   withRegions,
		Columns: []string{"order_id", "customer_name", "region_name", "amount"},
	}, nil
}
