package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"netflow-console/internal/client"
	"netflow-console/internal/filters"
	"netflow-console/internal/metrics"
	"netflow-console/internal/model"
	"netflow-console/internal/pipeline"
	"netflow-console/internal/utils"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
)

func getVersion() string {
	content, err := os.ReadFile("VERSION")
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(content))
}

func main() {
	var (
		configFile   = flag.String("config", "", "Configuration file path (YAML)")
		mode         = flag.String("mode", "metrics", "One of: metrics, query, records, follow")
		filterList   = flag.String("filters", "", "Filters, e.g. \"src_namespace=foo,bar;dst_kind!=Pod\"")
		match        = flag.String("match", "all", "Match all or any of the filters")
		backAndForth = flag.Bool("back-and-forth", false, "Also include traffic in the reverse direction")
		last         = flag.Int64("last", 300, "Query the last N seconds")
		start        = flag.Int64("start", 0, "Range start (epoch seconds), overrides -last")
		end          = flag.Int64("end", 0, "Range end (epoch seconds)")
		limit        = flag.Int("limit", 0, "Maximum number of series or records")
	)
	flag.Parse()

	config, err := utils.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.NewLogger(config.Logging.Level, config.Logging.Format)
	logger.SetOutput(os.Stderr)

	registry := filters.DefaultRegistry()
	fs, err := parseFilterSet(registry, *filterList, *match, *backAndForth)
	if err != nil {
		fmt.Printf("Invalid filters: %v\n", err)
		os.Exit(2)
	}

	rng := model.LastSeconds(*last)
	if *start != 0 || *end != 0 {
		rng = model.Between(*start, *end)
	}
	if err := rng.Validate(); err != nil {
		fmt.Printf("Invalid time range: %v\n", err)
		os.Exit(2)
	}

	if *mode == "query" {
		printQuery(registry, fs)
		return
	}

	fmt.Fprintf(os.Stderr, "Flow Console v%s\n", getVersion())

	consoleMetrics := client.NewConsoleMetrics(nil)
	processor, cleanup, err := newProcessor(config, registry, *mode != "metrics", logger, consoleMetrics)
	if err != nil {
		fmt.Printf("Failed to initialise: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	switch *mode {
	case "metrics":
		n := *limit
		if n <= 0 {
			n = config.Metrics.Limit
		}
		err = runMetrics(ctx, processor, fs, rng, n)
	case "records":
		n := *limit
		if n <= 0 {
			n = 100
		}
		err = runRecords(ctx, processor, fs, rng, n)
	case "follow":
		err = runFollow(ctx, processor, fs)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFilterSet(reg *filters.Registry, list, match string, backAndForth bool) (filters.FilterSet, error) {
	parsed, err := filters.ParseFilterList(reg, list)
	if err != nil {
		return filters.FilterSet{}, err
	}
	mode, err := filters.ParseMatchMode(match)
	if err != nil {
		return filters.FilterSet{}, err
	}
	return filters.FilterSet{Filters: parsed, Match: mode, BackAndForth: backAndForth}, nil
}

func newProcessor(config *utils.Config, registry *filters.Registry, withFlows bool, logger *logrus.Logger,
	m *client.ConsoleMetrics) (*pipeline.Processor, func(), error) {
	var source pipeline.TopologySource
	if config.Backend == utils.BackendConsole {
		source = client.NewConsoleClient(config.Console.URL, config.ConsoleTimeout(), logger, m)
	} else {
		promClient, err := client.NewPrometheusClient(client.PrometheusOptions{
			URL:     config.Prometheus.URL,
			Metric:  config.Prometheus.Metric,
			GroupBy: config.Prometheus.GroupBy,
			Timeout: config.PrometheusTimeout(),
			Policy:  config.Metrics.StepPolicy(),
		}, logger, m)
		if err != nil {
			return nil, nil, err
		}
		source = promClient
	}

	cleanup := func() {}
	var flowSource pipeline.FlowSource
	if withFlows {
		hubbleClient, err := client.NewHubbleGRPCClient(config.Hubble.Server, logger, m)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Hubble client: %w", err)
		}
		flowSource = hubbleClient
		cleanup = func() { hubbleClient.Close() }
	}

	aggregator := metrics.NewAggregator(config.Metrics.StepPolicy(), config.Metrics.Percentiles)
	return pipeline.NewProcessor(registry, source, flowSource, aggregator, config.Application.QueryTimeout(), logger, m), cleanup, nil
}

func printQuery(registry *filters.Registry, fs filters.FilterSet) {
	plan := filters.BuildPlan(registry, fs)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Query", "Encoded", "Decoded"})
	table.SetAutoWrapText(false)
	add := func(name, encoded string) {
		if encoded == "" {
			return
		}
		decoded, err := filters.Decode(encoded)
		if err != nil {
			decoded = err.Error()
		}
		table.Append([]string{name, encoded, decoded})
	}
	add("original", plan.Original)
	add("swapped", plan.Swapped)
	add("overlap", plan.Overlap)
	add("grouped", filters.BuildGrouped(registry, fs))
	table.Render()
}

func runMetrics(ctx context.Context, processor *pipeline.Processor, fs filters.FilterSet, rng model.TimeRange, limit int) error {
	result, err := processor.QueryMetrics(ctx, fs, rng, limit)
	if err != nil {
		return err
	}
	result = metrics.Clamp(result)

	labels := labelNames(result.Metrics)
	header := append([]string{}, labels...)
	header = append(header, "Latest", "Avg", "Max", "Total")

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, m := range result.Metrics {
		row := make([]string, 0, len(header))
		for _, l := range labels {
			row = append(row, m.Labels[l])
		}
		row = append(row,
			formatValue(m.Stats.Latest),
			formatValue(m.Stats.Avg),
			formatValue(m.Stats.Max),
			formatValue(m.Stats.Total),
		)
		table.Append(row)
	}
	table.SetFooter(footer(len(header), fmt.Sprintf("%d queries", result.Stats.NumQueries)))
	table.Render()

	if result.Stats.LimitReached {
		fmt.Fprintf(os.Stderr, "Showing the top %d series only\n", limit)
	}
	return nil
}

func runRecords(ctx context.Context, processor *pipeline.Processor, fs filters.FilterSet, rng model.TimeRange, limit int) error {
	flows, err := processor.QueryFlows(ctx, fs, rng, limit)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Time", "Source", "Destination", "Proto", "Port", "Verdict"})
	for i := range flows {
		table.Append(flowRow(&flows[i]))
	}
	table.Render()
	return nil
}

func runFollow(ctx context.Context, processor *pipeline.Processor, fs filters.FilterSet) error {
	fmt.Fprintln(os.Stderr, "Following flows, press Ctrl+C to stop")
	return processor.StreamFlows(ctx, fs, func(flow *model.Flow) error {
		fmt.Println(strings.Join(flowRow(flow), "  "))
		return nil
	})
}

func flowRow(flow *model.Flow) []string {
	ts := ""
	if flow.Time != nil {
		ts = flow.Time.Format(time.RFC3339)
	}
	proto, port := "", ""
	if flow.L4 != nil {
		switch {
		case flow.L4.TCP != nil:
			proto, port = "TCP", strconv.Itoa(int(flow.L4.TCP.DestinationPort))
		case flow.L4.UDP != nil:
			proto, port = "UDP", strconv.Itoa(int(flow.L4.UDP.DestinationPort))
		}
	}
	return []string{ts, endpointName(flow.Source, flow.IP, true), endpointName(flow.Destination, flow.IP, false), proto, port, flow.Verdict.String()}
}

func endpointName(ep *model.Endpoint, ip *model.IP, source bool) string {
	if ep != nil && ep.PodName != "" {
		return ep.Namespace + "/" + ep.PodName
	}
	if ip != nil {
		if source {
			return ip.Source
		}
		return ip.Destination
	}
	return ""
}

func labelNames(series []model.TopologyMetrics) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range series {
		for l := range m.Labels {
			if !seen[l] {
				seen[l] = true
				names = append(names, l)
			}
		}
	}
	sort.Strings(names)
	return names
}

func footer(width int, last string) []string {
	row := make([]string, width)
	row[width-1] = last
	return row
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
