package client

import (
	"testing"
	"time"

	"netflow-console/internal/filters"
	"netflow-console/internal/model"

	flowpb "github.com/cilium/cilium/api/v1/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestBuildWhitelist(t *testing.T) {
	t.Run("groups become flow filters", func(t *testing.T) {
		groups := mustParse(t, "SrcK8S_Namespace%3Dfoo%26DstPort%3D80%7CDstK8S_Namespace%3Dfoo%2Cbar%26Proto%3D6%26SrcK8S_Namespace%21%3Dfoo")
		whitelist := BuildWhitelist(groups)
		require.Len(t, whitelist, 2)

		assert.Equal(t, []string{"k8s:io.kubernetes.pod.namespace=foo"}, whitelist[0].GetSourceLabel())
		assert.Equal(t, []string{"80"}, whitelist[0].GetDestinationPort())
		assert.Equal(t, []string{"k8s:io.kubernetes.pod.namespace in (foo,bar)"}, whitelist[1].GetDestinationLabel())
		assert.Equal(t, []string{"tcp"}, whitelist[1].GetProtocol())
		assert.Empty(t, whitelist[1].GetSourceLabel())
	})

	t.Run("untranslatable group drops the whitelist", func(t *testing.T) {
		groups := mustParse(t, "SrcK8S_Namespace%3Dfoo%7CSrcK8S_Zone%3Deu-west-1a")
		assert.Nil(t, BuildWhitelist(groups))
	})

	t.Run("negated group drops the whitelist", func(t *testing.T) {
		groups := mustParse(t, "SrcK8S_Namespace%21%3Dfoo")
		assert.Nil(t, BuildWhitelist(groups))
	})

	t.Run("no filter", func(t *testing.T) {
		assert.Nil(t, BuildWhitelist(mustParse(t, "")))
	})
}

func TestParseFlowFilter(t *testing.T) {
	groups, err := parseFlowFilter("SrcK8S_Namespace%3Dfoo%26DstPort%3D80")
	require.NoError(t, err)
	assert.Len(t, groups, 1)

	for _, filter := range []string{
		"SrcK8S_Zone%3Deu-west-1a",
		"SrcK8S_Namespace%3Dfoo%7CDstK8S_HostName%21%3Dnode-1",
		"FlowDirection%3D0",
	} {
		_, err := parseFlowFilter(filter)
		assert.ErrorIs(t, err, filters.ErrMalformedFilter, filter)
	}

	_, err = parseFlowFilter("")
	assert.NoError(t, err)
}

func TestConvertHubbleFlow(t *testing.T) {
	ts := time.Unix(1700000000, 0).UTC()
	hubbleFlow := &flowpb.Flow{
		Time:     timestamppb.New(ts),
		Verdict:  flowpb.Verdict_DROPPED,
		NodeName: "node-1",
		IP:       &flowpb.IP{Source: "10.0.0.1", Destination: "10.0.0.2"},
		L4: &flowpb.Layer4{Protocol: &flowpb.Layer4_TCP{TCP: &flowpb.TCP{
			SourcePort:      41000,
			DestinationPort: 443,
			Flags:           &flowpb.TCPFlags{SYN: true},
		}}},
		Source: &flowpb.Endpoint{
			Namespace: "foo",
			PodName:   "demo-api-5f7b8c9d4f-abc12",
			Labels:    []string{"k8s:io.kubernetes.pod.namespace=foo"},
		},
		Destination: &flowpb.Endpoint{
			Namespace: "bar",
			Labels:    []string{"k8s:io.kubernetes.pod.name=db-0", "k8s:app=db"},
		},
		IsReply: wrapperspb.Bool(true),
	}

	flow := convertHubbleFlow(hubbleFlow)
	require.NotNil(t, flow)

	assert.Equal(t, ts, flow.Time.UTC())
	assert.Equal(t, model.Verdict_DROPPED, flow.Verdict)
	assert.Equal(t, "node-1", flow.NodeName)
	assert.True(t, flow.IsReply)
	assert.Equal(t, "SYN", flow.L4.TCP.Flags.String())
	assert.Equal(t, "demo-api", flow.Source.Workload)
	assert.Equal(t, "db-0", flow.Destination.PodName)
	assert.Equal(t, "db", flow.Destination.Workload)

	fields := flow.Fields()
	assert.Equal(t, "foo", fields[model.FieldSrcNamespace])
	assert.Equal(t, "bar", fields[model.FieldDstNamespace])
	assert.Equal(t, "443", fields[model.FieldDstPort])
	assert.Equal(t, model.ProtoTCP, fields[model.FieldProto])

	groups := mustParse(t, "SrcK8S_Namespace%3Dfoo%26DstPort%21%3D80")
	assert.True(t, filters.MatchesAny(groups, fields))

	assert.Nil(t, convertHubbleFlow(nil))
}

func TestWorkloadFromPod(t *testing.T) {
	assert.Equal(t, "demo-api", workloadFromPod("demo-api-5f7b8c9d4f-abc12"))
	assert.Equal(t, "db-0", workloadFromPod("db-0"))
	assert.Equal(t, "", workloadFromPod(""))
}
