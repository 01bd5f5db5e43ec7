package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"netflow-console/internal/filters"
	"netflow-console/internal/model"

	"github.com/cilium/cilium/api/v1/observer"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const namespaceLabel = "k8s:io.kubernetes.pod.namespace"

// HubbleGRPCClient reads flow records from Hubble Relay
type HubbleGRPCClient struct {
	conn    *grpc.ClientConn
	server  string
	logger  *logrus.Logger
	metrics *ConsoleMetrics
}

func NewHubbleGRPCClient(server string, logger *logrus.Logger, m *ConsoleMetrics) (*HubbleGRPCClient, error) {
	conn, err := grpc.NewClient(server, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Hubble server: %w", err)
	}

	return &HubbleGRPCClient{
		conn:    conn,
		server:  server,
		logger:  logger,
		metrics: m,
	}, nil
}

func (c *HubbleGRPCClient) Close() error {
	return c.conn.Close()
}

func (c *HubbleGRPCClient) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c.conn.Connect()
	state := c.conn.GetState()
	if state.String() == "READY" {
		c.logger.Infof("Connected to Hubble relay at %s", c.server)
		return nil
	}

	if !c.conn.WaitForStateChange(ctx, state) {
		return fmt.Errorf("connection test failed: timeout waiting for connection")
	}

	finalState := c.conn.GetState()
	if finalState.String() == "READY" {
		c.logger.Infof("Connected to Hubble relay at %s", c.server)
		return nil
	}
	return fmt.Errorf("connection test failed: connection state is %s", finalState.String())
}

// GetFlows returns the most recent flows of the range matching an encoded
// filter string, at most limit of them when limit is positive
func (c *HubbleGRPCClient) GetFlows(ctx context.Context, filter string, rng model.TimeRange, limit int) ([]model.Flow, error) {
	groups, err := parseFlowFilter(filter)
	if err != nil {
		return nil, err
	}

	from, to := rng.Resolve(time.Now())
	req := &observer.GetFlowsRequest{
		Whitelist: BuildWhitelist(groups),
		Since:     timestamppb.New(time.Unix(from, 0)),
		Until:     timestamppb.New(time.Unix(to, 0)),
	}

	var flows []model.Flow
	err = c.receive(ctx, req, groups, func(flow *model.Flow) error {
		flows = append(flows, *flow)
		if limit > 0 && len(flows) > limit {
			flows = flows[1:]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return flows, nil
}

// StreamFlows follows live flows matching an encoded filter string until the
// context is done or fn returns an error
func (c *HubbleGRPCClient) StreamFlows(ctx context.Context, filter string, fn func(*model.Flow) error) error {
	groups, err := parseFlowFilter(filter)
	if err != nil {
		return err
	}

	req := &observer.GetFlowsRequest{
		Follow:    true,
		Whitelist: BuildWhitelist(groups),
	}
	return c.receive(ctx, req, groups, fn)
}

func (c *HubbleGRPCClient) receive(ctx context.Context, req *observer.GetFlowsRequest, groups []filters.Group, fn func(*model.Flow) error) error {
	client := observer.NewObserverClient(c.conn)

	stream, err := client.GetFlows(ctx, req)
	if err != nil {
		c.recordConnectionError("stream_start_failed")
		return fmt.Errorf("failed to start flow streaming: %w", err)
	}

	flowCount := 0
	lastLogTime := time.Now()

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.recordConnectionError("stream_receive_failed")
			return fmt.Errorf("failed to receive flow: %w", err)
		}

		flow := convertHubbleFlow(response.GetFlow())
		if flow == nil || !filters.MatchesAny(groups, flow.Fields()) {
			continue
		}

		flowCount++
		if c.metrics != nil {
			c.metrics.RecordFlow(flow)
		}
		if err := fn(flow); err != nil {
			return err
		}

		if time.Since(lastLogTime) >= 10*time.Second {
			c.logger.Debugf("Processed %d flows in the last 10 seconds", flowCount)
			lastLogTime = time.Now()
			flowCount = 0
		}
	}
}

// parseFlowFilter decodes a filter string and rejects fields flow records do
// not carry, which would otherwise match nothing
func parseFlowFilter(filter string) ([]filters.Group, error) {
	groups, err := filters.Parse(filter)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		for _, m := range g {
			if !model.IsFlowField(m.Key) {
				return nil, fmt.Errorf("%w: %s is not available on flow records", filters.ErrMalformedFilter, m.Key)
			}
		}
	}
	return groups, nil
}

func (c *HubbleGRPCClient) recordConnectionError(errorType string) {
	if c.metrics != nil {
		c.metrics.RecordConnectionError(errorType)
	}
}

// BuildWhitelist narrows a Hubble request using the positive matches of each
// group. Negated matches cannot be expressed per group in a FlowFilter and
// are checked on the received flows instead. If any group cannot be narrowed
// the whitelist is left empty.
func BuildWhitelist(groups []filters.Group) []*observer.FlowFilter {
	whitelist := make([]*observer.FlowFilter, 0, len(groups))
	for _, g := range groups {
		ff := &observer.FlowFilter{}
		narrowed := false
		for _, m := range g {
			if m.Not {
				continue
			}
			if applyMatch(ff, m) {
				narrowed = true
			}
		}
		if !narrowed {
			return nil
		}
		whitelist = append(whitelist, ff)
	}
	return whitelist
}

func applyMatch(ff *observer.FlowFilter, m filters.Match) bool {
	switch m.Key {
	case model.FieldSrcNamespace:
		ff.SourceLabel = append(ff.SourceLabel, namespaceSelector(m.Values))
	case model.FieldDstNamespace:
		ff.DestinationLabel = append(ff.DestinationLabel, namespaceSelector(m.Values))
	case model.FieldSrcAddr:
		ff.SourceIp = append(ff.SourceIp, m.Values...)
	case model.FieldDstAddr:
		ff.DestinationIp = append(ff.DestinationIp, m.Values...)
	case model.FieldSrcPort:
		ff.SourcePort = append(ff.SourcePort, m.Values...)
	case model.FieldDstPort:
		ff.DestinationPort = append(ff.DestinationPort, m.Values...)
	case model.FieldProto:
		protocols := make([]string, 0, len(m.Values))
		for _, v := range m.Values {
			name, ok := protocolNames[v]
			if !ok {
				return false
			}
			protocols = append(protocols, name)
		}
		ff.Protocol = append(ff.Protocol, protocols...)
	default:
		return false
	}
	return true
}

var protocolNames = map[string]string{
	model.ProtoTCP: "tcp",
	model.ProtoUDP: "udp",
}

// namespaceSelector builds a label selector matching any of the namespaces
func namespaceSelector(namespaces []string) string {
	if len(namespaces) == 1 {
		return namespaceLabel + "=" + namespaces[0]
	}
	return namespaceLabel + " in (" + strings.Join(namespaces, ",") + ")"
}

func convertHubbleFlow(hubbleFlow *observer.Flow) *model.Flow {
	if hubbleFlow == nil {
		return nil
	}

	flow := &model.Flow{
		NodeName: hubbleFlow.GetNodeName(),
	}

	if hubbleFlow.GetTime() != nil {
		t := hubbleFlow.GetTime().AsTime()
		flow.Time = &t
	}

	switch hubbleFlow.GetVerdict() {
	case observer.Verdict_FORWARDED:
		flow.Verdict = model.Verdict_FORWARDED
	case observer.Verdict_DROPPED:
		flow.Verdict = model.Verdict_DROPPED
	case observer.Verdict_ERROR:
		flow.Verdict = model.Verdict_ERROR
	case observer.Verdict_AUDIT:
		flow.Verdict = model.Verdict_AUDIT
	case observer.Verdict_REDIRECTED:
		flow.Verdict = model.Verdict_REDIRECTED
	case observer.Verdict_TRACED:
		flow.Verdict = model.Verdict_TRACED
	case observer.Verdict_TRANSLATED:
		flow.Verdict = model.Verdict_TRANSLATED
	default:
		flow.Verdict = model.Verdict_VERDICT_UNKNOWN
	}

	if ip := hubbleFlow.GetIP(); ip != nil {
		flow.IP = &model.IP{
			Source:      ip.GetSource(),
			Destination: ip.GetDestination(),
		}
	}

	if l4 := hubbleFlow.GetL4(); l4 != nil {
		flow.L4 = &model.L4{}

		if tcp := l4.GetTCP(); tcp != nil {
			flow.L4.TCP = &model.TCP{
				SourcePort:      tcp.GetSourcePort(),
				DestinationPort: tcp.GetDestinationPort(),
			}
			if flags := tcp.GetFlags(); flags != nil {
				flow.L4.TCP.Flags = &model.TCPFlags{
					SYN: flags.GetSYN(),
					ACK: flags.GetACK(),
					FIN: flags.GetFIN(),
					RST: flags.GetRST(),
					PSH: flags.GetPSH(),
					URG: flags.GetURG(),
				}
			}
		}

		if udp := l4.GetUDP(); udp != nil {
			flow.L4.UDP = &model.UDP{
				SourcePort:      udp.GetSourcePort(),
				DestinationPort: udp.GetDestinationPort(),
			}
		}
	}

	if source := hubbleFlow.GetSource(); source != nil {
		flow.Source = convertEndpoint(source.GetNamespace(), source.GetPodName(), source.GetLabels())
	}
	if dest := hubbleFlow.GetDestination(); dest != nil {
		flow.Destination = convertEndpoint(dest.GetNamespace(), dest.GetPodName(), dest.GetLabels())
	}

	if isReply := hubbleFlow.GetIsReply(); isReply != nil {
		flow.IsReply = isReply.GetValue()
	}

	return flow
}

func convertEndpoint(namespace, podName string, rawLabels []string) *model.Endpoint {
	labels := make(map[string]string, len(rawLabels))
	for _, label := range rawLabels {
		parts := strings.SplitN(label, "=", 2)
		if len(parts) == 2 {
			labels[parts[0]] = parts[1]
		}
	}

	if podName == "" {
		podName = labels["k8s:io.kubernetes.pod.name"]
	}

	workload := workloadFromPod(podName)
	if app, ok := labels["k8s:app"]; ok {
		workload = app
	} else if app, ok := labels["app"]; ok {
		workload = app
	}

	return &model.Endpoint{
		Namespace: namespace,
		PodName:   podName,
		Workload:  workload,
		Labels:    labels,
	}
}

// workloadFromPod strips generated suffixes (e.g. demo-api-5f7b8c9d4f-abc12 -> demo-api)
func workloadFromPod(podName string) string {
	parts := strings.Split(podName, "-")
	if len(parts) < 3 {
		return podName
	}
	last := parts[len(parts)-1]
	secondLast := parts[len(parts)-2]
	if len(last) >= 5 && len(secondLast) >= 5 {
		return strings.Join(parts[:len(parts)-2], "-")
	}
	return podName
}
