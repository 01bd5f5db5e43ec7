package model

import (
	"strconv"
	"strings"
	"time"
)

// Flow represents a network flow record as shown in the console flow table
type Flow struct {
	Time        *time.Time `json:"time,omitempty"`
	Verdict     Verdict    `json:"verdict"`
	IP          *IP        `json:"ip,omitempty"`
	L4          *L4        `json:"l4,omitempty"`
	Source      *Endpoint  `json:"source,omitempty"`
	Destination *Endpoint  `json:"destination,omitempty"`
	NodeName    string     `json:"node_name,omitempty"`
	IsReply     bool       `json:"is_reply,omitempty"`
}

// Verdict represents the verdict of a flow
type Verdict int32

const (
	Verdict_VERDICT_UNKNOWN Verdict = 0
	Verdict_FORWARDED       Verdict = 1
	Verdict_DROPPED         Verdict = 2
	Verdict_ERROR           Verdict = 3
	Verdict_AUDIT           Verdict = 4
	Verdict_REDIRECTED      Verdict = 5
	Verdict_TRACED          Verdict = 6
	Verdict_TRANSLATED      Verdict = 7
)

func (v Verdict) String() string {
	switch v {
	case Verdict_FORWARDED:
		return "FORWARDED"
	case Verdict_DROPPED:
		return "DROPPED"
	case Verdict_ERROR:
		return "ERROR"
	case Verdict_AUDIT:
		return "AUDIT"
	case Verdict_REDIRECTED:
		return "REDIRECTED"
	case Verdict_TRACED:
		return "TRACED"
	case Verdict_TRANSLATED:
		return "TRANSLATED"
	default:
		return "UNKNOWN"
	}
}

// IP represents IP layer information
type IP struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// L4 represents Layer 4 information
type L4 struct {
	TCP *TCP `json:"tcp,omitempty"`
	UDP *UDP `json:"udp,omitempty"`
}

// TCP represents TCP information
type TCP struct {
	SourcePort      uint32    `json:"source_port"`
	DestinationPort uint32    `json:"destination_port"`
	Flags           *TCPFlags `json:"flags,omitempty"`
}

// UDP represents UDP information
type UDP struct {
	SourcePort      uint32 `json:"source_port"`
	DestinationPort uint32 `json:"destination_port"`
}

// TCPFlags represents TCP flags
type TCPFlags struct {
	SYN bool `json:"syn"`
	ACK bool `json:"ack"`
	FIN bool `json:"fin"`
	RST bool `json:"rst"`
	PSH bool `json:"psh"`
	URG bool `json:"urg"`
}

func (f *TCPFlags) String() string {
	var flags []string
	if f.SYN {
		flags = append(flags, "SYN")
	}
	if f.ACK {
		flags = append(flags, "ACK")
	}
	if f.FIN {
		flags = append(flags, "FIN")
	}
	if f.RST {
		flags = append(flags, "RST")
	}
	if f.PSH {
		flags = append(flags, "PSH")
	}
	if f.URG {
		flags = append(flags, "URG")
	}

	if len(flags) == 0 {
		return "NONE"
	}
	return strings.Join(flags, ",")
}

// Endpoint represents one side of a flow
type Endpoint struct {
	Namespace string            `json:"namespace"`
	PodName   string            `json:"pod_name"`
	Workload  string            `json:"workload"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Field names shared by flow records, filter definitions and metric labels
const (
	FieldSrcNamespace = "SrcK8S_Namespace"
	FieldDstNamespace = "DstK8S_Namespace"
	FieldSrcName      = "SrcK8S_Name"
	FieldDstName      = "DstK8S_Name"
	FieldSrcOwnerName = "SrcK8S_OwnerName"
	FieldDstOwnerName = "DstK8S_OwnerName"
	FieldSrcType      = "SrcK8S_Type"
	FieldDstType      = "DstK8S_Type"
	FieldSrcHostName  = "SrcK8S_HostName"
	FieldDstHostName  = "DstK8S_HostName"
	FieldSrcZone      = "SrcK8S_Zone"
	FieldDstZone      = "DstK8S_Zone"
	FieldSrcSubnet    = "SrcSubnetLabel"
	FieldDstSubnet    = "DstSubnetLabel"
	FieldSrcAddr      = "SrcAddr"
	FieldDstAddr      = "DstAddr"
	FieldSrcPort      = "SrcPort"
	FieldDstPort      = "DstPort"
	FieldSrcMac       = "SrcMac"
	FieldDstMac       = "DstMac"
	FieldProto        = "Proto"
	FieldDscp         = "Dscp"
	FieldDirection    = "FlowDirection"
	FieldCluster      = "K8S_ClusterName"
	FieldInterface    = "Interfaces"
)

// Protocol numbers as used in the Proto field
const (
	ProtoTCP = "6"
	ProtoUDP = "17"
)

// flowFields are the fields Fields can populate. Node, zone, subnet, MAC,
// DSCP, direction, cluster and interface are not carried by flow records.
var flowFields = map[string]bool{
	FieldSrcNamespace: true, FieldDstNamespace: true,
	FieldSrcName: true, FieldDstName: true,
	FieldSrcOwnerName: true, FieldDstOwnerName: true,
	FieldSrcType: true, FieldDstType: true,
	FieldSrcAddr: true, FieldDstAddr: true,
	FieldSrcPort: true, FieldDstPort: true,
	FieldProto: true,
}

// IsFlowField reports whether flow records can be filtered on a field
func IsFlowField(name string) bool {
	return flowFields[name]
}

// Fields flattens the flow into the field names understood by filters
func (f *Flow) Fields() map[string]string {
	fields := make(map[string]string)

	if f.Source != nil {
		fields[FieldSrcNamespace] = f.Source.Namespace
		fields[FieldSrcName] = f.Source.PodName
		fields[FieldSrcOwnerName] = f.Source.Workload
		if f.Source.PodName != "" {
			fields[FieldSrcType] = "Pod"
		}
	}
	if f.Destination != nil {
		fields[FieldDstNamespace] = f.Destination.Namespace
		fields[FieldDstName] = f.Destination.PodName
		fields[FieldDstOwnerName] = f.Destination.Workload
		if f.Destination.PodName != "" {
			fields[FieldDstType] = "Pod"
		}
	}
	if f.IP != nil {
		fields[FieldSrcAddr] = f.IP.Source
		fields[FieldDstAddr] = f.IP.Destination
	}
	if f.L4 != nil {
		switch {
		case f.L4.TCP != nil:
			fields[FieldProto] = ProtoTCP
			fields[FieldSrcPort] = strconv.FormatUint(uint64(f.L4.TCP.SourcePort), 10)
			fields[FieldDstPort] = strconv.FormatUint(uint64(f.L4.TCP.DestinationPort), 10)
		case f.L4.UDP != nil:
			fields[FieldProto] = ProtoUDP
			fields[FieldSrcPort] = strconv.FormatUint(uint64(f.L4.UDP.SourcePort), 10)
			fields[FieldDstPort] = strconv.FormatUint(uint64(f.L4.UDP.DestinationPort), 10)
		}
	}
	return fields
}
